package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"corekit/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

// uploadHandler accepts a multipart file plus optional encrypt/password
// form fields and hands the spooled temp file to the Orchestrator, mirroring
// the teacher's UploadHandler's FormFile usage.
func (s *Server) uploadHandler(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "no file uploaded"})
		return
	}

	tmpDir, err := os.MkdirTemp("", "corekit-upload-")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "temp dir"})
		return
	}
	defer os.RemoveAll(tmpDir)
	tmpPath := filepath.Join(tmpDir, filepath.Base(fh.Filename))
	if err := c.SaveUploadedFile(fh, tmpPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "save upload"})
		return
	}

	encrypt, _ := strconv.ParseBool(c.PostForm("encrypt"))
	fileID, err := s.orch.Upload(tmpPath, orchestrator.UploadOptions{
		Encrypt:  encrypt,
		Password: c.PostForm("password"),
	})
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file_id": fileID})
}

func (s *Server) downloadHandler(c *gin.Context) {
	fileID := c.Query("file_id")
	if fileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "missing file_id"})
		return
	}
	tmpDir, err := os.MkdirTemp("", "corekit-download-")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "temp dir"})
		return
	}
	defer os.RemoveAll(tmpDir)

	downloadID, err := s.orch.Download(fileID, tmpDir, orchestrator.DownloadOptions{Password: c.Query("password")})
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"download_id": downloadID})
}

func (s *Server) listHandler(c *gin.Context) {
	files, err := s.orch.ListFiles()
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) listIncompleteUploadsHandler(c *gin.Context) {
	states, err := s.orch.ListIncompleteUploads()
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploads": states})
}

func (s *Server) listIncompleteDownloadsHandler(c *gin.Context) {
	states, err := s.orch.ListIncompleteDownloads()
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"downloads": states})
}

func (s *Server) pauseHandler(c *gin.Context) {
	s.orch.Pause(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) stopHandler(c *gin.Context) {
	s.orch.Stop(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) cancelHandler(c *gin.Context) {
	if err := s.orch.Cancel(c.Param("id")); err != nil {
		writeEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) shareHandler(c *gin.Context) {
	var req struct {
		FileIDs  []string `json:"file_ids"`
		Password string   `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil || len(req.FileIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "file_ids and password required"})
		return
	}
	outPath := filepath.Join(os.TempDir(), "corekit-share-"+req.FileIDs[0]+".link")
	path, err := s.orch.Share(req.FileIDs, req.Password, outPath)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

func (s *Server) importShareHandler(c *gin.Context) {
	fh, err := c.FormFile("link")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "no link file uploaded"})
		return
	}
	tmpDir, err := os.MkdirTemp("", "corekit-import-")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "temp dir"})
		return
	}
	defer os.RemoveAll(tmpDir)
	tmpPath := filepath.Join(tmpDir, "import.link")
	if err := c.SaveUploadedFile(fh, tmpPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "save upload"})
		return
	}
	d, err := s.orch.ImportShare(tmpPath, c.PostForm("password"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// writeEngineError maps the Orchestrator's §7 error kinds to HTTP status the
// way the teacher's handlers map filesystem errors. It matches each kind's
// message at the end of the error text, where the Orchestrator's translate
// appends the corerr kind, instead of ad-hoc os.IsNotExist checks.
func writeEngineError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case isKind(err, "not found"):
		status = http.StatusNotFound
	case isKind(err, "wrong password"), isKind(err, "bad password"), isKind(err, "auth error"):
		status = http.StatusUnauthorized
	case isKind(err, "source mismatch"), isKind(err, "malformed envelope"), isKind(err, "bad magic"):
		status = http.StatusBadRequest
	case isKind(err, "operation already running for this id"):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"message": err.Error()})
}

func isKind(err error, msg string) bool {
	return err != nil && (err.Error() == msg || containsSuffix(err.Error(), msg))
}

func containsSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

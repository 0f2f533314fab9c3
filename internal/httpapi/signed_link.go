package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"corekit/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

// signDownload HMACs file_id|expiry the same way the teacher's
// auth.SignDownload signs filepath|userID|expiry, so a short-lived download
// URL can be handed out without requiring the recipient to hold a session.
func signDownload(secret, fileID string, exp time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%d", fileID, exp.Unix())
	return hex.EncodeToString(mac.Sum(nil))
}

// generateLinkHandler issues a 30-second signed download URL for a catalog
// file_id (spec §6 carries no link-signing operation; this is a
// SPEC_FULL.md supplement grounded on the teacher's auth.GenerateDownloadLink
// / auth.SignDownload).
func (s *Server) generateLinkHandler(c *gin.Context) {
	fileID := c.Query("file_id")
	if fileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "missing file_id"})
		return
	}
	exp := time.Now().Add(30 * time.Second)
	sig := signDownload(s.cfg.SignSecret, fileID, exp)
	link := fmt.Sprintf("/api/dlink/download?file_id=%s&exp=%d&sig=%s",
		url.QueryEscape(fileID), exp.Unix(), sig)
	c.JSON(http.StatusOK, gin.H{"url": link})
}

// signedDownloadHandler verifies the HMAC from generateLinkHandler and, if
// valid, serves the file directly — no session cookie required, mirroring
// the teacher's SignedDownloadHandler/dlink route group.
func (s *Server) signedDownloadHandler(c *gin.Context) {
	fileID := c.Query("file_id")
	expStr := c.Query("exp")
	sig := c.Query("sig")

	expUnix, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil || time.Now().Unix() > expUnix {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "link expired"})
		return
	}
	expected := signDownload(s.cfg.SignSecret, fileID, time.Unix(expUnix, 0))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid signature"})
		return
	}

	tmpDir, err := os.MkdirTemp("", "corekit-dlink-")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "temp dir"})
		return
	}
	defer os.RemoveAll(tmpDir)

	f, err := s.orch.ListFiles()
	if err != nil {
		writeEngineError(c, err)
		return
	}
	var name string
	for _, file := range f {
		if file.FileID == fileID {
			name = file.Name
		}
	}

	if _, err := s.orch.Download(fileID, tmpDir, orchestrator.DownloadOptions{Password: c.Query("password")}); err != nil {
		writeEngineError(c, err)
		return
	}
	c.File(tmpDir + "/" + name)
}

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// loginHandler exchanges the catalog password for a session+CSRF cookie
// pair, mirroring the teacher's auth.LoginHandler shape but authenticating
// against the single Catalog password instead of a per-user table.
func (s *Server) loginHandler(c *gin.Context) {
	password := c.PostForm("password")
	if password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "missing password"})
		return
	}
	if !s.orch.Authenticate(password) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "wrong password"})
		return
	}

	sess := s.sessions.create()
	secure := s.cfg.CookieSecure
	c.SetCookie("session_token", sess.token, 3600*24, "/", s.cfg.CookieDomain, secure, true)
	c.SetCookie("csrf_token", sess.csrfToken, 3600*24, "/", s.cfg.CookieDomain, secure, false)
	c.JSON(http.StatusOK, gin.H{"message": "logged in"})
}

func (s *Server) sessionCheckHandler(c *gin.Context) {
	token, err := c.Cookie("session_token")
	if err != nil || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false})
		return
	}
	if _, ok := s.sessions.get(token); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true})
}

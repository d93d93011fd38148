package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gluk-w/claworc/sshdeck/internal/logutil"
	"github.com/gluk-w/claworc/sshdeck/internal/sshaudit"
	"github.com/gluk-w/claworc/sshdeck/internal/sshfiles"
	"github.com/gluk-w/claworc/sshdeck/internal/sshterminal"
)

func BrowseFiles(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	dirPath := r.URL.Query().Get("path")
	if dirPath == "" {
		dirPath = "/"
	}

	entries, err := sshfiles.ListDirectory(r.Context(), s, dirPath)
	if err != nil {
		log.Printf("[sshfiles] list %s on %s failed: %v", logutil.SanitizeForLog(dirPath), s.ID(), err)
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"path":    dirPath,
		"entries": entries,
	})
}

func ReadFileContent(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "path is required"})
		return
	}

	data, err := sshfiles.ReadFile(r.Context(), s, filePath)
	if err != nil {
		writeFailure(w, err)
		return
	}
	auditFileOp(r, s, "read", filePath)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"path":    filePath,
		"content": string(data),
	})
}

func WriteFileContent(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "path is required"})
		return
	}

	if err := sshfiles.WriteFile(r.Context(), s, req.Path, []byte(req.Content)); err != nil {
		writeFailure(w, err)
		return
	}
	auditFileOp(r, s, "write", req.Path)
	writeSuccess(w)
}

func CreateDirectory(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "path is required"})
		return
	}

	if err := sshfiles.CreateDirectory(r.Context(), s, req.Path); err != nil {
		writeFailure(w, err)
		return
	}
	auditFileOp(r, s, "mkdir", req.Path)
	writeSuccess(w)
}

// TransferDir confines the server-side paths of upload and download. Both
// are refused while it is nil.
var TransferDir *sshfiles.LocalDir

// KeyDir confines privateKeyPath. Requests naming a key path are refused
// while it is nil.
var KeyDir *sshfiles.LocalDir

var errLocalFilesDisabled = errors.New("server-side file access is not configured")

type transferRequest struct {
	LocalPath  string `json:"localPath"`
	RemotePath string `json:"remotePath"`
}

// UploadFile copies a file on the server's filesystem to the remote host.
func UploadFile(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.LocalPath == "" || req.RemotePath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "localPath and remotePath are required"})
		return
	}
	if TransferDir == nil {
		writeFailure(w, errLocalFilesDisabled)
		return
	}

	if err := sshfiles.Upload(r.Context(), s, TransferDir, req.LocalPath, req.RemotePath); err != nil {
		writeFailure(w, err)
		return
	}
	auditFileOp(r, s, "upload", req.RemotePath)
	writeSuccess(w)
}

// DownloadFile copies a remote file onto the server's filesystem.
func DownloadFile(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.LocalPath == "" || req.RemotePath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "localPath and remotePath are required"})
		return
	}
	if TransferDir == nil {
		writeFailure(w, errLocalFilesDisabled)
		return
	}

	if err := sshfiles.Download(r.Context(), s, req.RemotePath, TransferDir, req.LocalPath); err != nil {
		writeFailure(w, err)
		return
	}
	auditFileOp(r, s, "download", req.RemotePath)
	writeSuccess(w)
}

func auditFileOp(r *http.Request, s *sshterminal.Session, op, path string) {
	p := s.Params()
	sshaudit.LogFileOperation(s.ID(), p.Hostname, p.Username, sshaudit.ExtractSourceIP(r), op, path)
}

package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/webtest/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🖼️ 截图文件 Handler
// =============================================================================

// FileHandler 截图文件服务处理器。
// 截图按任务 ID 分目录存放（<dir>/<task_id>/<filename>），
// 对外既支持 task_id/filename 形式，也支持仅凭文件名跨任务目录查找。
type FileHandler struct {
	dir    string
	logger *zap.Logger
}

// NewFileHandler 创建截图文件处理器
func NewFileHandler(dir string, logger *zap.Logger) *FileHandler {
	return &FileHandler{
		dir:    dir,
		logger: logger.With(zap.String("component", "file_handler")),
	}
}

// HandleScreenshot 按文件名返回截图
// @Summary 获取截图
// @Tags files
// @Produce image/png
// @Param filename path string true "截图文件名"
// @Success 200 {file} binary "截图内容"
// @Failure 404 {object} Response "文件不存在"
// @Router /screenshots/{filename} [get]
func (h *FileHandler) HandleScreenshot(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/screenshots/")
	if name == "" || name == r.URL.Path {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "filename is required", h.logger)
		return
	}

	path, ok := h.resolve(name)
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "screenshot not found", h.logger)
		return
	}

	http.ServeFile(w, r, path)
}

// resolve 将请求的文件名解析为截图目录下的安全路径。
// 任何指向目录外的路径一律按不存在处理。
func (h *FileHandler) resolve(name string) (string, bool) {
	cleaned := filepath.Clean("/" + name)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", false
	}

	// 直接命中 <dir>/<path>（含 task_id/filename 形式）
	direct := filepath.Join(h.dir, cleaned)
	if fileExists(direct) {
		return direct, true
	}

	// 仅有文件名时，在各任务子目录中查找
	if !strings.Contains(cleaned, string(filepath.Separator)) {
		entries, err := os.ReadDir(h.dir)
		if err != nil {
			return "", false
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			candidate := filepath.Join(h.dir, entry.Name(), cleaned)
			if fileExists(candidate) {
				return candidate, true
			}
		}
	}

	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

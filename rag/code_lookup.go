package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/neorag/types"
)

// maxCodeFileBytes 单文件读取上限
const maxCodeFileBytes = 256 * 1024

// CodeLookup 代码查找工具：按相对路径读取代码库文件内容，
// 供路由器处理代码相关查询。路径被限制在 root 之内。
type CodeLookup struct {
	root   string
	logger *zap.Logger
}

// NewCodeLookup 创建代码查找工具。root 是代码库根目录。
func NewCodeLookup(root string, logger *zap.Logger) *CodeLookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodeLookup{
		root:   root,
		logger: logger.With(zap.String("component", "code_lookup")),
	}
}

// Lookup 返回 root 下指定相对路径的文件内容。
// 越界路径和超大文件都拒绝。
func (c *CodeLookup) Lookup(_ context.Context, relPath string) (string, error) {
	if strings.TrimSpace(relPath) == "" {
		return "", types.NewError(types.ErrInvalidInput, "file path cannot be empty")
	}

	full := filepath.Join(c.root, filepath.Clean("/"+relPath))
	rel, err := filepath.Rel(c.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", types.NewError(types.ErrInvalidInput, "file path escapes lookup root")
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", types.NewError(types.ErrInvalidInput, fmt.Sprintf("file not found: %s", relPath)).WithCause(err)
	}
	if info.IsDir() {
		return "", types.NewError(types.ErrInvalidInput, fmt.Sprintf("path is a directory: %s", relPath))
	}
	if info.Size() > maxCodeFileBytes {
		return "", types.NewError(types.ErrInvalidInput, fmt.Sprintf("file too large: %s", relPath))
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "read file").WithCause(err)
	}

	c.logger.Debug("code file read", zap.String("path", rel), zap.Int("bytes", len(data)))
	return string(data), nil
}

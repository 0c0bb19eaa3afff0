package rag

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// NewTiktokenLength 创建基于 tiktoken 的 LengthFunc，按 token 数而不是
// 字符数度量块大小。model 指定 tiktoken 模型（如 "gpt-4-turbo"）。
// 单次编码失败时回退到 len/4 估算并记录警告。
func NewTiktokenLength(model string, logger *zap.Logger) (LengthFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("create tiktoken encoding for %s: %w", model, err)
	}

	return func(text string) (n int) {
		defer func() {
			if r := recover(); r != nil {
				logger.Warn("tiktoken encode panicked, falling back to estimate",
					zap.Any("recover", r))
				n = len(text) / 4
			}
		}()
		return len(enc.Encode(text, nil, nil))
	}, nil
}

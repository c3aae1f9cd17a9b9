// Package naming 实现租户的文件命名策略。
package naming

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"unicode"
)

// Strategy 是租户配置的命名策略。
type Strategy string

const (
	// StrategyRandom 生成随机字母数字串。
	StrategyRandom Strategy = "random"
	// StrategyZeroWidth 生成由零宽字符组成的名称。
	StrategyZeroWidth Strategy = "zerowidth"
	// StrategyName 保留客户端提供的原始文件名。
	StrategyName Strategy = "name"
)

const (
	DefaultLength = 10
	maxLength     = 64
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var zeroWidth = []rune{'\u200B', '\u200C', '\u200D', '\u2060'}

// Parse 解析策略名，未知值回落为随机策略。
func Parse(raw string) Strategy {
	switch Strategy(strings.ToLower(strings.TrimSpace(raw))) {
	case StrategyZeroWidth:
		return StrategyZeroWidth
	case StrategyName:
		return StrategyName
	default:
		return StrategyRandom
	}
}

// Generate 按策略生成不含扩展名的标识。
// StrategyName 在原始名为空时回落为随机串。
func Generate(strategy Strategy, length int, original string) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}
	if length > maxLength {
		length = maxLength
	}

	switch strategy {
	case StrategyZeroWidth:
		return randomFrom(zeroWidth, length)
	case StrategyName:
		if base := Sanitize(original); base != "" {
			return base, nil
		}
		return randomFrom([]rune(alphanumeric), length)
	default:
		return randomFrom([]rune(alphanumeric), length)
	}
}

// WithExtension 拼接标识与扩展名。
func WithExtension(base, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// Sanitize 去掉路径与扩展名，并剔除控制字符与路径分隔符。
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	name = strings.TrimSuffix(name, filepath.Ext(name))

	var b strings.Builder
	for _, r := range name {
		if unicode.IsControl(r) || r == '/' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), " .")
}

func randomFrom(alphabet []rune, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]rune, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate name: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

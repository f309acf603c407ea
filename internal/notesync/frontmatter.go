package notesync

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelim = "---"

// SplitFrontMatter はテキスト先頭のYAML front-matterと本文を分離する。
// front-matterが無い・パースできない・マッピングでない場合は空のメタデータとテキスト全体を返す。
func SplitFrontMatter(text string) (map[string]any, string) {
	empty := map[string]any{}
	if !strings.HasPrefix(text, frontMatterDelim) {
		return empty, text
	}

	parts := strings.SplitN(text, frontMatterDelim, 3)
	if len(parts) != 3 {
		return empty, text
	}

	var raw any
	if err := yaml.Unmarshal([]byte(parts[1]), &raw); err != nil {
		return empty, text
	}

	body := strings.TrimLeft(parts[2], "\n")
	switch meta := raw.(type) {
	case nil:
		return empty, body
	case map[string]any:
		return meta, body
	default:
		return empty, text
	}
}

func metaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// metaTags はリストまたは単一の文字列をタグとして扱う。
func metaTags(meta map[string]any) []string {
	tags := []string{}
	switch v := meta["tags"].(type) {
	case []any:
		for _, t := range v {
			if t == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(t)); s != "" {
				tags = append(tags, s)
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			tags = append(tags, s)
		}
	}
	return tags
}

// metaPublic は未指定ならtrue。文字列はstrconv.ParseBoolで解釈し、解釈できなければtrue。
func metaPublic(meta map[string]any) bool {
	switch v := meta["public"].(type) {
	case nil:
		return true
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return true
		}
		return b
	case int:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}

// metaPriceCents は価格を整数で返す。未指定は0、不正値や負数はエラー。
func metaPriceCents(meta map[string]any) (int, error) {
	v, ok := meta["price_cents"]
	if !ok || v == nil {
		return 0, nil
	}
	n, ok := toInt(v)
	if !ok {
		return 0, fmt.Errorf("invalid price_cents: %v", v)
	}
	if n < 0 {
		return 0, fmt.Errorf("price_cents must not be negative: %d", n)
	}
	return n, nil
}

// toInt は整数、整数値の浮動小数、数値文字列を整数に変換する。
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

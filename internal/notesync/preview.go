package notesync

import "strings"

// DefaultPreviewLength はメタデータで指定が無い場合のプレビュー文字数。
const DefaultPreviewLength = 400

// ComputePreview は本文からプレビューを作る。文字数はルーン単位で数える。
//
//   - preview_marker が本文に含まれる場合: 最初の出現位置より前をトリムしたもの
//   - preview_length が正の整数の場合: 先頭n文字。改行を含めば最後の改行の手前まで
//   - それ以外: 先頭400文字
func ComputePreview(content string, meta map[string]any) string {
	if marker := metaString(meta, "preview_marker"); marker != "" {
		if i := strings.Index(content, marker); i >= 0 {
			return strings.TrimSpace(content[:i])
		}
	}

	if v, ok := meta["preview_length"]; ok && v != nil {
		if n, ok := toInt(v); ok && n > 0 {
			head := firstRunes(content, n)
			if i := strings.LastIndex(head, "\n"); i >= 0 {
				return head[:i]
			}
			return head
		}
	}

	return firstRunes(content, DefaultPreviewLength)
}

func firstRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

package notesync

import (
	"mime"
	"net/http"
	"path"
	"regexp"
	"sort"
	"strings"
)

// assetRefPattern は画像 ![alt](path) とリンク [text](path) の参照先を捕捉する。
var assetRefPattern = regexp.MustCompile(`!\[.*?\]\(([^)]+)\)|\[[^\]]+\]\(([^)]+)\)`)

// CollectAssetPaths は本文中の相対参照をノートのディレクトリ基準のリポジトリパスに解決する。
// 外部URL・mailto・ページ内アンカーは除外し、重複を除いてソートして返す。
func CollectAssetPaths(markdown, noteDir string) []string {
	seen := map[string]struct{}{}
	for _, m := range assetRefPattern.FindAllStringSubmatch(markdown, -1) {
		ref := m[1]
		if ref == "" {
			ref = m[2]
		}
		ref = strings.TrimSpace(ref)
		// 末尾のリンクタイトル（"title"）を落とす
		if i := strings.IndexAny(ref, " \t"); i >= 0 {
			ref = ref[:i]
		}
		if ref == "" || isExternalRef(ref) {
			continue
		}
		if i := strings.IndexAny(ref, "#?"); i >= 0 {
			ref = ref[:i]
		}

		var resolved string
		if strings.HasPrefix(ref, "/") {
			resolved = strings.TrimPrefix(path.Clean(ref), "/")
		} else {
			resolved = path.Join(noteDir, ref)
		}
		if resolved == "" || resolved == "." || resolved == ".." || strings.HasPrefix(resolved, "../") {
			continue
		}
		seen[resolved] = struct{}{}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func isExternalRef(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(ref, "#")
}

// DetectContentType は拡張子からContent-Typeを決め、不明なら内容から推定する。
func DetectContentType(p string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

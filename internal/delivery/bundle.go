// Package delivery はノートの配布形式（zip・PDF）の生成と購入者へのメール送信を行う。
package delivery

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/hitoshi/notegate/internal/model"
)

// BlobReader はアセット本体の取得元。
type BlobReader interface {
	Get(ctx context.Context, id string) ([]byte, string, error)
}

// Bundler はノートを配布用の形式に変換する。
type Bundler struct {
	blobs  BlobReader
	logger *slog.Logger
}

// NewBundler はBundlerを生成する。
func NewBundler(blobs BlobReader, logger *slog.Logger) *Bundler {
	return &Bundler{blobs: blobs, logger: logger}
}

// Zip は "<slug>.md" とアセットをまとめたzipを生成する。
// アセットはファイル名のみで格納し、取得できなかったものは含めない。
func (b *Bundler) Zip(ctx context.Context, note *model.Note) ([]byte, error) {
	if note == nil {
		return nil, errors.New("note is nil")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create(note.Slug + ".md")
	if err != nil {
		return nil, fmt.Errorf("failed to create zip entry for %s: %w", note.Slug, err)
	}
	if _, err := w.Write([]byte(note.Content)); err != nil {
		return nil, fmt.Errorf("failed to write zip entry for %s: %w", note.Slug, err)
	}

	paths := make([]string, 0, len(note.AssetMap))
	for p := range note.AssetMap {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	written := map[string]bool{note.Slug + ".md": true}
	for _, p := range paths {
		name := path.Base(p)
		if written[name] {
			b.logger.Warn("アセットのファイル名が重複しているためスキップします", slog.String("slug", note.Slug), slog.String("path", p))
			continue
		}

		data, _, err := b.blobs.Get(ctx, note.AssetMap[p])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.logger.Warn("アセットの読み込みに失敗しました",
				slog.String("slug", note.Slug),
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			continue
		}

		aw, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create zip entry %s: %w", name, err)
		}
		if _, err := aw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write zip entry %s: %w", name, err)
		}
		written[name] = true
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize zip for %s: %w", note.Slug, err)
	}
	return buf.Bytes(), nil
}

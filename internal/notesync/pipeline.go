// Package notesync はGitHubリポジトリのmarkdownノートとアセットをノートストアへ同期する。
package notesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/hitoshi/notegate/internal/blob"
	"github.com/hitoshi/notegate/internal/model"
	"github.com/hitoshi/notegate/internal/source"
)

// Source はソースツリーの取得元。
type Source interface {
	ListTree(ctx context.Context, ref, prefix string) ([]source.TreeEntry, error)
	FetchRaw(ctx context.Context, ref, path string) ([]byte, error)
}

// NoteStore はノートの書き込み先。
type NoteStore interface {
	Upsert(ctx context.Context, note *model.Note) error
}

// Sanitizer はタイトルと説明文からHTMLを除去する。
type Sanitizer interface {
	StripHTML(raw string) string
}

// Recorder は同期のメトリクスを記録する。
type Recorder interface {
	RecordSyncRun(result string, duration time.Duration)
	RecordNotesUpserted(n int)
	RecordAssetFetchFailure()
}

// Failure は個別ノートの失敗。
type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result は同期結果。
type Result struct {
	Upserted int       `json:"upserted"`
	Failed   []Failure `json:"failed"`
}

// Pipeline は同期処理本体。実行単位のロックは持たないため、呼び出し側で直列化すること。
type Pipeline struct {
	src       Source
	blobs     blob.Store
	notes     NoteStore
	sanitizer Sanitizer
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline はPipelineを生成する。recorderはnilでもよい。
func NewPipeline(src Source, blobs blob.Store, notes NoteStore, sanitizer Sanitizer, recorder Recorder, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		src:       src,
		blobs:     blobs,
		notes:     notes,
		sanitizer: sanitizer,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Sync はref上のpathPrefix配下の.mdファイルを全て取り込む。
// ツリー取得の失敗のみエラーとして返し、個別ノートの失敗はResult.Failedに積む。
func (p *Pipeline) Sync(ctx context.Context, ref, pathPrefix string) (*Result, error) {
	start := p.now()

	entries, err := p.src.ListTree(ctx, ref, pathPrefix)
	if err != nil {
		p.record("error", start)
		action := "GitHubの設定を確認してください。"
		var srcErr *source.Error
		if errors.As(err, &srcErr) {
			action = srcErr.Message
		}
		return nil, model.NewSourceUnavailableError(action, err)
	}

	result := &Result{Failed: []Failure{}}
	for _, e := range entries {
		if !strings.HasSuffix(strings.ToLower(e.Path), ".md") {
			continue
		}
		if err := ctx.Err(); err != nil {
			p.record("canceled", start)
			return result, err
		}

		if err := p.syncNote(ctx, ref, e.Path); err != nil {
			p.logger.Error("ノートの同期に失敗しました",
				slog.String("path", e.Path),
				slog.String("error", err.Error()),
			)
			result.Failed = append(result.Failed, Failure{Path: e.Path, Error: err.Error()})
			continue
		}
		result.Upserted++
	}

	if p.recorder != nil {
		p.recorder.RecordNotesUpserted(result.Upserted)
	}
	p.record("ok", start)

	p.logger.Info("ノートの同期が完了しました",
		slog.String("ref", ref),
		slog.String("prefix", pathPrefix),
		slog.Int("upserted", result.Upserted),
		slog.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (p *Pipeline) syncNote(ctx context.Context, ref, notePath string) error {
	raw, err := p.src.FetchRaw(ctx, ref, notePath)
	if err != nil {
		return err
	}

	meta, content := SplitFrontMatter(string(raw))

	price, err := metaPriceCents(meta)
	if err != nil {
		return err
	}

	slug := strings.TrimSpace(metaString(meta, "slug"))
	if slug == "" {
		base := path.Base(notePath)
		slug = strings.TrimSuffix(base, path.Ext(base))
	}

	title := p.sanitizer.StripHTML(metaString(meta, "title"))
	if title == "" {
		title = slug
	}

	note := &model.Note{
		Slug:        slug,
		Title:       title,
		Description: p.sanitizer.StripHTML(metaString(meta, "description")),
		Tags:        metaTags(meta),
		Public:      metaPublic(meta),
		PriceCents:  price,
		Content:     content,
		Preview:     ComputePreview(content, meta),
		AssetMap:    p.storeAssets(ctx, ref, content, path.Dir(notePath)),
		Path:        notePath,
		UpdatedAt:   p.now().UTC(),
	}

	if err := p.notes.Upsert(ctx, note); err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", slug, err)
	}
	return nil
}

// storeAssets は参照されているアセットを取得してBlobストアに保存する。失敗したものは飛ばす。
func (p *Pipeline) storeAssets(ctx context.Context, ref, content, noteDir string) map[string]string {
	assetMap := map[string]string{}
	for _, ap := range CollectAssetPaths(content, noteDir) {
		data, err := p.src.FetchRaw(ctx, ref, ap)
		if err == nil {
			var id string
			id, err = p.blobs.Put(ctx, data, ap, DetectContentType(ap, data))
			if err == nil {
				assetMap[ap] = id
				continue
			}
		}
		p.logger.Warn("アセットの取得に失敗しました",
			slog.String("path", ap),
			slog.String("error", err.Error()),
		)
		if p.recorder != nil {
			p.recorder.RecordAssetFetchFailure()
		}
	}
	return assetMap
}

func (p *Pipeline) record(result string, start time.Time) {
	if p.recorder != nil {
		p.recorder.RecordSyncRun(result, p.now().Sub(start))
	}
}

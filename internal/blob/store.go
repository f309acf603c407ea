// Package blob はノートに埋め込まれたアセットのバイナリ保存先を提供する。
package blob

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound は指定IDのBlobが存在しない場合に返される。
var ErrNotFound = errors.New("blob not found")

// namespace はアセットパスからBlob IDを導出するためのUUIDv5名前空間。
var namespace = uuid.MustParse("6f1d9c2e-4b7a-5e3f-9a8d-2c1b0e7f4a35")

// Store はアセットの保存・取得インターフェース。
type Store interface {
	// Put はデータを保存し、Blob IDを返す。同じpathへのPutは同じIDを上書きする。
	Put(ctx context.Context, data []byte, path, contentType string) (string, error)

	// Get はBlob IDからデータとContent-Typeを取得する。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, id string) ([]byte, string, error)
}

// IDForPath はリポジトリ内パスから決定的にBlob IDを導出する。
func IDForPath(path string) string {
	return uuid.NewSHA1(namespace, []byte(path)).String()
}

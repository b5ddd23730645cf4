// Package shard はキーから固定数のシャードを選ぶ。
package shard

import "github.com/cespare/xxhash/v2"

// Count はインメモリ状態のシャード数。
const Count = 32

// Index はキーに対応するシャード番号を返す。
func Index(key string) int {
	return int(xxhash.Sum64String(key) % Count)
}

// Command daochat はリアルタイムメッセージングゲートウェイを起動する。
//
//	daochat [serve]            APIサーバーとWebSocketゲートウェイ
//	daochat worker             期限切れセッションの定期削除
//	daochat migrate [up|down N] データベースマイグレーション
//	daochat healthcheck        /health への疎通確認
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/daochat/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

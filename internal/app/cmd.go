package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーとWebSocketゲートウェイを起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの掃除ワーカーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	// "migrate down [steps]" で巻き戻す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// MigrateDirection はmigrateサブコマンドの方向と巻き戻しステップ数。
type MigrateDirection struct {
	Down  bool
	Steps int
}

// ParseMigrateArgs は "migrate" に続く引数を解析する。
// 引数なしまたは "up" は適用、"down" は1ステップ、"down N" はNステップの巻き戻し。
func ParseMigrateArgs(args []string) (MigrateDirection, error) {
	if len(args) == 0 || args[0] == "up" {
		return MigrateDirection{}, nil
	}
	if args[0] != "down" {
		return MigrateDirection{}, fmt.Errorf("unknown migrate direction %q (want up or down)", args[0])
	}

	steps := 1
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return MigrateDirection{}, fmt.Errorf("invalid rollback steps %q", args[1])
		}
		steps = n
	}
	return MigrateDirection{Down: true, Steps: steps}, nil
}

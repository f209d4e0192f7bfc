package app

import (
	"errors"
	"fmt"
	"strings"
)

// Command はバイナリのサブコマンド。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandCreateAdmin Command = "create-admin"
	// CommandHealthcheck はdistrolessイメージのHEALTHCHECKから呼ばれる。設定の読み込みを行わない。
	CommandHealthcheck Command = "healthcheck"
)

// commands は受け付けるサブコマンドと usage 用の説明。
var commands = []struct {
	cmd  Command
	help string
}{
	{CommandServe, "HTTP APIを起動する（既定）"},
	{CommandWorker, "期限切れセッションを定期削除する"},
	{CommandMigrate, "スキーマを更新する。migrate down で直近の1つを戻す"},
	{CommandCreateAdmin, "ADMIN_NAME / ADMIN_EMAIL / ADMIN_PASSWORD から管理者を作成する"},
	{CommandHealthcheck, "ローカルの /health を確認する"},
}

// MigrateDirection はマイグレーションの方向。
type MigrateDirection string

const (
	MigrateUp   MigrateDirection = "up"
	MigrateDown MigrateDirection = "down"
)

// ErrUnknownCommand は未定義のサブコマンドや引数が渡されたことを表す。
var ErrUnknownCommand = errors.New("unknown command")

// ParseCommand は os.Args[1:] の先頭からサブコマンドを決める。
// 引数なしは serve。未定義の名前は ErrUnknownCommand。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	for _, c := range commands {
		if string(c.cmd) == args[0] {
			return c.cmd, nil
		}
	}
	return "", fmt.Errorf("%w: %q\n%s", ErrUnknownCommand, args[0], Usage())
}

// ParseMigrateDirection は "migrate" に続く引数を解釈する。省略時は up。
func ParseMigrateDirection(args []string) (MigrateDirection, error) {
	if len(args) < 2 {
		return MigrateUp, nil
	}
	switch dir := MigrateDirection(args[1]); dir {
	case MigrateUp, MigrateDown:
		return dir, nil
	default:
		return "", fmt.Errorf("%w: migrate %q (want up or down)", ErrUnknownCommand, args[1])
	}
}

// Usage はサブコマンドの一覧を返す。
func Usage() string {
	var b strings.Builder
	b.WriteString("usage: storerating <command>\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-14s %s\n", c.cmd, c.help)
	}
	return b.String()
}

package app

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandSeed は初期ユーザーとコンパニオンを投入することを示す。
	CommandSeed Command = "seed"
	// CommandCleanupSessions は期限切れセッションを1回削除することを示す。
	// cronなど外部スケジューラからの定期実行を想定する。
	CommandCleanupSessions Command = "cleanup-sessions"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空、先頭がフラグ、またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandMigrate, CommandSeed, CommandCleanupSessions, CommandHealthcheck:
		return Command(args[0])
	default:
		return CommandServe
	}
}

// Options はサブコマンドとフラグの解析結果。
type Options struct {
	Command Command
	// ConfigPath はYAML設定ファイルのパス。空の場合はデフォルト値と環境変数のみ。
	ConfigPath string
	// Down はmigrateでロールバックするステップ数。0の場合は全件適用。
	Down int
	// SeedFile はseedが読み込むフィクスチャ。空の場合は設定値、それも空なら組み込みデータ。
	SeedFile string
	// Port はhealthcheckの接続先ポート。
	Port string
}

// ParseArgs はサブコマンドとフラグを解析する。
// --helpが指定された場合はpflag.ErrHelpを返す。
func ParseArgs(args []string, errOut io.Writer) (*Options, error) {
	opts := &Options{Command: ParseCommand(args)}

	rest := args
	if len(args) > 0 && Command(args[0]) == opts.Command {
		rest = args[1:]
	}

	fs := pflag.NewFlagSet(string(opts.Command), pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")

	switch opts.Command {
	case CommandMigrate:
		fs.IntVar(&opts.Down, "down", 0, "roll back this many migrations instead of applying")
	case CommandSeed:
		fs.StringVar(&opts.SeedFile, "file", "", "path to seed YAML (default: built-in fixture)")
	case CommandHealthcheck:
		fs.StringVar(&opts.Port, "port", "", "API server port (default: $SERVER_PORT or 8080)")
	}

	if err := fs.Parse(rest); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%s: unexpected arguments %v", opts.Command, fs.Args())
	}
	if opts.Down < 0 {
		return nil, fmt.Errorf("migrate: --down must not be negative")
	}
	return opts, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"crmkit/app"
	"crmkit/config"
	"crmkit/domain/audited"
	"crmkit/logging"
)

// 输出格式
var validOutputs = []string{"json", "text"}

// rootOptions 全局参数
type rootOptions struct {
	EnvFiles []string
	Output   string
	Verbose  bool

	// lookup 替换环境变量来源，测试用
	lookup func(string) (string, bool)
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(&rootOptions{})
}

func newRootCommandWith(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crmctl",
		Short:         "Operate the crmkit entity store",
		Long:          "Query, export and mutate CRM entities with a transactional audit trail.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, o := range validOutputs {
				if o == opts.Output {
					return nil
				}
			}
			return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, validOutputs)
		},
	}

	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "dotenv files to load (default .env)")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "json", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on stderr")

	cmd.AddCommand(
		newCheckCommand(opts),
		newMigrateCommand(opts),
		newQueryCommand(opts),
		newExportCommand(opts),
		newCreateCommand(opts),
		newUpdateCommand(opts),
		newDeleteCommand(opts),
		newRestoreCommand(opts),
		newAuditCommand(opts),
	)
	return cmd
}

func (o *rootOptions) config() (*config.Config, error) {
	if o.lookup != nil {
		return config.FromLookup(o.lookup)
	}
	return config.Load(o.EnvFiles...)
}

func (o *rootOptions) logger(cmd *cobra.Command, cfg *config.Config) logging.Logger {
	level := cfg.LogLevel
	if o.Verbose {
		level = logging.DebugLevel
	}
	return logging.NewStdLogger("crmctl", logging.WithLevel(level), logging.WithWriter(cmd.ErrOrStderr()))
}

// withEngine 打开引擎执行 fn 后关闭
func (o *rootOptions) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *app.Engine) error) error {
	cfg, err := o.config()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := app.Open(ctx, cfg, app.OpenOptions{Logger: o.logger(cmd, cfg)})
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func (o *rootOptions) print(w io.Writer, v any, text func(io.Writer) error) error {
	if o.Output == "text" && text != nil {
		return text(w)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// actorFlags 操作者上下文
type actorFlags struct {
	UserID   string
	UserName string
	UserRole string
	Reason   string
}

func (a *actorFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.UserID, "user", "", "acting user id (default system)")
	cmd.Flags().StringVar(&a.UserName, "user-name", "", "acting user display name")
	cmd.Flags().StringVar(&a.UserRole, "role", "", "acting user role")
	cmd.Flags().StringVar(&a.Reason, "reason", "", "reason recorded in the audit trail")
}

func (a *actorFlags) actor() audited.Actor {
	return audited.Actor{
		UserID:    a.UserID,
		UserName:  a.UserName,
		UserRole:  a.UserRole,
		Reason:    a.Reason,
		UserAgent: "crmctl",
	}
}

// readPayload 解析 --data：JSON 文本、@文件 或 - 表示标准输入
func readPayload(cmd *cobra.Command, data string) (map[string]any, error) {
	var r io.Reader
	switch {
	case data == "-":
		r = cmd.InOrStdin()
	case strings.HasPrefix(data, "@"):
		f, err := os.Open(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	case data == "":
		return nil, fmt.Errorf("--data is required")
	default:
		r = strings.NewReader(data)
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

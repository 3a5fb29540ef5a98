// Command jinx-cache runs the Jinxxy store cache together with its admin
// HTTP surface.
//
// Usage:
//
//	jinx-cache serve --config config.toml
//	jinx-cache check-config --config config.toml
//	jinx-cache version
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jinx-bot/jinx-cache/internal/config"
	"github.com/jinx-bot/jinx-cache/internal/logging"
)

const configEnv = "JINX_CACHE_CONFIG"

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd 构建命令树；每次调用返回独立实例，测试之间互不影响。
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jinx-cache",
		Short:         "In-memory Jinxxy store cache with background refresh",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdOut)
	root.SetErr(stdErr)
	root.PersistentFlags().StringP("config", "c", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the cache workers and the admin server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return reportErr(runServe(cmd.Context(), optionsFrom(cmd)))
			},
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "Validate the configuration file and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return reportErr(runCheckConfig(optionsFrom(cmd)))
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				printVersion()
			},
		},
	)
	return root
}

func optionsFrom(cmd *cobra.Command) cliOptions {
	flag, _ := cmd.Flags().GetString("config")
	return cliOptions{configPath: resolveConfigPath(flag)}
}

// resolveConfigPath 按 flag > 环境变量 > 默认值 的优先级确定配置路径。
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	return "config.toml"
}

func reportErr(err error) error {
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
	}
	return err
}

func runCheckConfig(opts cliOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}

	fields := logging.BaseFields("check_config", opts.configPath)
	fields["listen_addr"] = cfg.Global.ListenAddr
	fields["redis_addr"] = cfg.Global.RedisAddr
	fields["upstream"] = cfg.Upstream.BaseURL
	fields["result"] = "ok"
	logger.WithFields(fields).Info("配置校验通过")
	return nil
}

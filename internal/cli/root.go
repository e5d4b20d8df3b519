package cli

import (
	"fmt"
	"os"

	"github.com/srilekha18-11/RAG/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd 是没有子命令时调用的基础命令
var rootCmd = &cobra.Command{
	Use:   "ragcli",
	Short: "ragcli 基于论文语料库回答问题",
	Long: `ragcli 从本地向量库中检索论文段落并生成带引用的回答，
文档不足时回退到模型的通用知识，两者都有时合并为一个答案。`,
	SilenceUsage: true,
}

// Execute 将所有子命令添加到根命令并执行，由 main.main() 调用一次
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件（默认按 ./config.yaml、$HOME/.ragcli/config.yaml 搜索）")
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}

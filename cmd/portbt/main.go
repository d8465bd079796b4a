package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"portbt/internal/app"
	"portbt/internal/config"
)

const usage = `用法: portbt <command> [flags]

命令:
  run        按配置执行一次回测
  optimize   穷举参数寻优（-setting 指定寻优配置 JSON）
  serve      常驻 HTTP 服务
  import     拉取历史K线（-ticks 时改为从CSV导入tick）

通用 flags:
  -config    配置文件路径（默认 configs/config.yaml，可用 PORTBT_CONFIG 覆盖）`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	cfgPath := flags.String("config", defaultConfigPath(), "配置文件路径")
	settingPath := flags.String("setting", "configs/optimization.json", "寻优配置文件路径")
	tickSymbol := flags.String("ticks", "", "导入tick数据的合约")
	tickCSV := flags.String("csv", "", "tick CSV 文件路径")
	if err := flags.Parse(os.Args[2:]); err != nil {
		log.Fatalf("参数解析失败: %v", err)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "run":
		err = application.RunBacktest(ctx)
	case "optimize":
		err = application.RunOptimization(ctx, *settingPath)
	case "serve":
		err = application.Serve(ctx)
	case "import":
		if *tickSymbol != "" {
			if *tickCSV == "" {
				log.Fatalf("导入tick需要指定 -csv")
			}
			err = application.ImportTicks(ctx, *tickSymbol, *tickCSV)
		} else {
			err = application.ImportBars(ctx)
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("PORTBT_CONFIG"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

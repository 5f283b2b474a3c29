// simulate 让 AI 玩家批量对局并统计胜率
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/qianlnk/clocktower/config"
	"github.com/qianlnk/clocktower/logger"
	"github.com/qianlnk/clocktower/models"
	"github.com/qianlnk/clocktower/services"
)

type options struct {
	games    int
	players  int
	seed     int64
	maxDays  int
	budget   int
	timeout  time.Duration
	workers  int
	standard bool
	narrate  bool
	logLevel string
}

// result 一局的结果
type result struct {
	winner models.Winner
	days   int
	deaths int
}

// parseOptions 解析命令行参数。规则参数与服务器共用 config.Load，
// 因此 config.yaml 与 CLOCKTOWER_GAME_* 环境变量同样生效，命令行优先。
func parseOptions(args []string) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("simulate", pflag.ContinueOnError)
	configPath := flags.String("config", "", "配置文件路径，规则参数可来自配置文件与环境变量")
	flags.IntVarP(&opts.games, "games", "n", 100, "对局数量")
	flags.IntVarP(&opts.players, "players", "p", 7, "每局玩家数 (5-15)")
	flags.Int64("seed", 0, "随机种子，0 表示随机")
	flags.Int("max-days", services.DefaultMaxDays, "超过该天数判平局")
	flags.Int("nomination-budget", services.DefaultNominationBudget, "每天最多提名次数")
	flags.Duration("decision-timeout", 30*time.Second, "单次决策的超时时间")
	flags.IntVar(&opts.workers, "workers", 4, "并发对局数")
	flags.BoolVar(&opts.standard, "standard", false, "七人局使用固定角色池")
	flags.BoolVar(&opts.narrate, "narrate", false, "输出对局旁白")
	flags.String("log-level", "warn", "日志级别")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		return options{}, err
	}
	opts.seed = cfg.Game.Seed
	opts.maxDays = cfg.Game.MaxDays
	opts.budget = cfg.Game.NominationBudget
	opts.timeout = cfg.Game.DecisionTimeout

	// 模拟器默认只输出警告，开启旁白时输出 info
	switch {
	case flags.Changed("log-level"):
		opts.logLevel = cfg.Log.Level
	case opts.narrate:
		opts.logLevel = "info"
	default:
		opts.logLevel = "warn"
	}
	if opts.standard && opts.players != 7 {
		return options{}, fmt.Errorf("固定角色池只支持七人局，当前 %d 人", opts.players)
	}
	return opts, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		logger.Setup("warn")
		log.Fatal().Err(err).Msg("[模拟] 参数错误")
	}
	logger.Setup(opts.logLevel)

	baseSeed := opts.seed
	if baseSeed == 0 {
		baseSeed = services.NewSeed()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	started := time.Now()
	results, err := simulate(ctx, opts, baseSeed)
	if err != nil {
		log.Fatal().Err(err).Msg("[模拟] 对局失败")
	}
	render(os.Stdout, opts, baseSeed, results, time.Since(started))
}

// simulate 并发执行全部对局，第 i 局使用种子 baseSeed+i
func simulate(ctx context.Context, opts options, baseSeed int64) ([]result, error) {
	results := make([]result, opts.games)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.workers, 1))
	for i := 0; i < opts.games; i++ {
		g.Go(func() error {
			r, err := playOne(gctx, opts, baseSeed+int64(i), i)
			if err != nil {
				return fmt.Errorf("第 %d 局: %w", i+1, err)
			}
			results[i] = r
			return nil
		})
	}
	return results, g.Wait()
}

func playOne(ctx context.Context, opts options, seed int64, index int) (result, error) {
	players := make([]models.Player, opts.players)
	for i := range players {
		players[i] = models.Player{
			ID:    fmt.Sprintf("p%02d", i+1),
			Name:  fmt.Sprintf("玩家%d", i+1),
			Type:  models.AIPlayer,
			Seat:  i,
			Alive: true,
		}
	}

	ai := services.NewAIPlayer(seed)
	for i := range players {
		players[i].Personality = ai.RandomPersonality()
		ai.SetPersonality(players[i].ID, players[i].Personality)
	}

	memory := services.NewMemorySink()
	sinks := services.MultiSink{memory}
	if opts.narrate {
		sinks = append(sinks, services.NewLogSink(services.NewNarrator(players, seed)))
	}

	sm := services.NewStateMachine(ai, services.Options{
		GameID:           fmt.Sprintf("sim-%d", index+1),
		MaxDays:          opts.maxDays,
		NominationBudget: opts.budget,
		DecisionTimeout:  opts.timeout,
		Seed:             seed,
		Sink:             sinks,
	})
	ai.Observe(sm.Snapshot)

	pool := services.StandardPool()
	if !opts.standard {
		var err error
		pool, err = services.GenerateRolePool(opts.players, services.DefaultCatalog(), services.NewRand(seed))
		if err != nil {
			return result{}, err
		}
	}
	if err := sm.Setup(players, pool); err != nil {
		return result{}, err
	}

	winner, err := sm.Run(ctx)
	if err != nil {
		return result{}, err
	}
	final := sm.Snapshot()
	deaths := 0
	for _, p := range final.Players {
		if !p.Alive {
			deaths++
		}
	}
	return result{winner: winner, days: final.Day, deaths: deaths}, nil
}

func render(out io.Writer, opts options, seed int64, results []result, elapsed time.Duration) {
	counts := map[models.Winner]int{}
	days, deaths := 0, 0
	for _, r := range results {
		counts[r.winner]++
		days += r.days
		deaths += r.deaths
	}
	total := len(results)
	percent := func(n int) string {
		if total == 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f%%", float64(n)*100/float64(total))
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle(fmt.Sprintf("%d 局 / %d 人 / 种子 %d", total, opts.players, seed))
	t.AppendHeader(table.Row{"结果", "局数", "占比"})
	for _, w := range []models.Winner{models.WinnerGood, models.WinnerEvil, models.WinnerDraw} {
		t.AppendRow(table.Row{w, counts[w], percent(counts[w])})
	}
	t.AppendSeparator()
	if total > 0 {
		t.AppendRow(table.Row{"平均天数", fmt.Sprintf("%.2f", float64(days)/float64(total)), ""})
		t.AppendRow(table.Row{"平均死亡", fmt.Sprintf("%.2f", float64(deaths)/float64(total)), ""})
	}
	t.AppendFooter(table.Row{"耗时", elapsed.Round(time.Millisecond), ""})
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	t.Render()
}

// Command cmd is a line-oriented team client for playing from a terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/clientsync"
	"github.com/mcdev12/buzzer/go/internal/config"
	"github.com/mcdev12/buzzer/go/internal/game/teamclient"
	"github.com/mcdev12/buzzer/go/internal/platform"
)

const help = `commands:
  join <code> <team name>   join a room
  resume <session id>       rejoin with a saved session
  board                     show the current board
  select <n>                select question n from the board
  buzz                      buzz in on the open question
  answer <text>             answer after buzzing
  wager <points>            lock the final wager
  draft <text>              save a final response draft
  final <text>              submit the final response
  scores                    show the score table
  quit`

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.SetupLogging()

	ctx := context.Background()
	rt, err := platform.Open(ctx, cfg, platform.Options{Name: "buzzer-team"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open runtime")
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Error().Err(err).Msg("runtime shutdown failed")
		}
	}()

	client := teamclient.New(teamclient.Config{
		Store:          rt.Store,
		Bus:            rt.Bus,
		Feed:           rt.Feed,
		Metrics:        rt.Metrics,
		ResyncInterval: cfg.Timings.ResyncInterval,
		OnEvict: func(reason string) {
			fmt.Printf("\n! left the room: %s\n", reason)
		},
	})
	defer client.Close()

	t := &terminal{client: client}
	fmt.Println(help)
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Print("> "); scanner.Scan(); fmt.Print("> ") {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if cmd == "quit" {
			return
		}
		if err := t.run(ctx, cmd, strings.TrimSpace(arg)); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

type terminal struct {
	client *teamclient.Client
	board  []uuid.UUID // question ids in the order last shown
}

func (t *terminal) run(ctx context.Context, cmd, arg string) error {
	switch cmd {
	case "":
		return nil
	case "join":
		code, name, ok := strings.Cut(arg, " ")
		if !ok {
			return fmt.Errorf("usage: join <code> <team name>")
		}
		sess, err := t.client.Join(ctx, code, name, nil)
		if err != nil {
			return err
		}
		fmt.Printf("joined %s, session %s\n", sess.TeamName, sess.SessionID)
	case "resume":
		sess, err := t.client.Resume(ctx, arg)
		if err != nil {
			return err
		}
		fmt.Printf("resumed as %s\n", sess.TeamName)
	case "board":
		return t.showBoard()
	case "select":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(t.board) {
			return fmt.Errorf("pick a number shown by board")
		}
		p, err := t.client.SelectQuestion(ctx, t.board[n-1])
		if err != nil {
			return err
		}
		fmt.Printf("selected %s for %d, opens at %s\n",
			p.CategoryName, p.PointValue, p.StartedAt.Add(p.Duration).Format("15:04:05"))
	case "buzz":
		b, err := t.client.Buzz(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("buzzed at %s\n", b.BuzzedAt.Format("15:04:05.000"))
	case "answer":
		return t.answer(ctx, arg)
	case "wager":
		amount, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("wager must be a number")
		}
		w, err := t.client.LockWager(ctx, amount)
		if err != nil {
			return err
		}
		fmt.Printf("wager locked at %d\n", w.Amount)
	case "draft":
		return t.client.SetFinalDraft(arg)
	case "final":
		return t.client.SubmitFinalResponse(ctx, arg)
	case "scores":
		p, ok := t.client.Projection()
		if !ok {
			return teamclient.ErrNoSession
		}
		for i, s := range p.Scores() {
			fmt.Printf("%d. %-20s %6d\n", i+1, s.Name, s.Score)
		}
	default:
		fmt.Println(help)
	}
	return nil
}

func (t *terminal) showBoard() error {
	p, ok := t.client.Projection()
	if !ok {
		return teamclient.ErrNoSession
	}
	fmt.Printf("%s\n", p.Room.Status)
	t.board = t.board[:0]
	for _, c := range p.Categories {
		fmt.Printf("  %s\n", c.Name)
		for _, q := range p.Questions {
			if q.CategoryID != c.ID {
				continue
			}
			t.board = append(t.board, q.ID)
			mark := ""
			if q.IsAnswered {
				mark = " (done)"
			}
			fmt.Printf("    [%d] %d%s\n", len(t.board), q.Points(), mark)
		}
	}
	if q, ok := p.CurrentQuestion(); ok {
		fmt.Printf("open: %s\n", q.Clue)
	}
	printFinal(p)
	return nil
}

func (t *terminal) answer(ctx context.Context, text string) error {
	sess, ok := t.client.Session()
	if !ok {
		return teamclient.ErrNoSession
	}
	p, _ := t.client.Projection()
	if p.Judging == nil || p.Judging.TeamID != sess.TeamID {
		return fmt.Errorf("your team is not being judged")
	}
	return t.client.SubmitResponse(ctx, p.Judging.BuzzID, text)
}

func printFinal(p clientsync.Projection) {
	if p.Final == nil || p.Final.Clue == "" {
		return
	}
	fmt.Printf("final %s: %s\n", p.Final.Category, p.Final.Clue)
}

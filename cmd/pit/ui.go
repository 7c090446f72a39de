package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	cl "tradepit/internal/cli"
	"tradepit/internal/game"
	"tradepit/internal/wire"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderMarket(h cl.Health, m game.MarketView) {
	accent.Printf("\n== MARKET (%s) ==\n", strings.ToUpper(string(m.Phase)))
	fmt.Printf("Server:       ok=%t, %d live sockets\n", h.OK, h.Sessions)
	switch m.Phase {
	case game.PhaseCountdown:
		fmt.Printf("Starts in:    %ds\n", m.Countdown)
	case game.PhaseRunning:
		fmt.Printf("Elapsed:      %ds (%ds left)\n", m.TimeElapsed, m.TimeLeft)
	}
	fmt.Printf("Price:        %s\n", comma(m.MarketPrice))
	fmt.Printf("Bid / Ask:    %s / %s\n", comma(m.Bid), comma(m.Ask))
	if m.Phase == game.PhaseEnded {
		fmt.Printf("Fundamental:  %s\n", comma(m.FundamentalValue))
	}
	fmt.Printf("Robot flow:   %s buys, %s sells, net %s\n", comma(m.MarketBuys), comma(m.MarketSells), colorizeInt(m.MarketNet))
	fmt.Printf("Trader flow:  %s buys, %s sells, net %s\n", comma(m.TotalUserBuys), comma(m.TotalUserSells), colorizeInt(m.TotalUserNet))

	if n := len(m.History); n > 1 {
		delta := m.History[n-1].Price - m.History[0].Price
		fmt.Printf("Trend:        %s over %d points\n", colorizeInt(delta), n)
	}

	fmt.Println()
	accent.Printf("Online (%d)\n", m.OnlineCount)
	if len(m.OnlineUsers) == 0 {
		printInfo("Nobody is connected.")
	}
	for _, u := range m.OnlineUsers {
		fmt.Printf("  %-20s %s\n", truncate(u.Name, 20), neutral.Sprint(u.ID))
	}
	fmt.Println()
}

// renderTick prints one compact line per state frame.
func renderTick(st wire.State) {
	m := st.Market
	clock := ""
	switch m.Phase {
	case game.PhaseCountdown:
		clock = fmt.Sprintf("starts in %2ds", m.Countdown)
	case game.PhaseRunning:
		clock = fmt.Sprintf("t=%3d left=%3d", m.TimeElapsed, m.TimeLeft)
	default:
		clock = strings.ToUpper(string(m.Phase))
	}
	line := fmt.Sprintf("#%-6d %-16s px %5d  bid %5d  ask %5d  online %d",
		m.Seq, clock, m.MarketPrice, m.Bid, m.Ask, m.OnlineCount)
	if st.You != nil {
		line += fmt.Sprintf("  | pos %s  cash %s  equity %s",
			colorizeInt(st.You.Position), money(st.You.Cash), colorizeMoney(st.You.TotalEquity))
	}
	fmt.Println(line)
	if st.IsAdmin && len(st.Participants) > 0 && m.Phase == game.PhaseRunning && m.Seq%10 == 0 {
		renderParticipants(st.Participants)
	}
}

func renderParticipants(views []game.ParticipantView) {
	fmt.Printf("  %-20s %8s %8s %8s %12s %12s %12s\n", "NAME", "POS", "BUYS", "SELLS", "AVG", "CASH", "EQUITY")
	for _, v := range views {
		fmt.Printf("  %-20s %8s %8s %8s %12s %12s %12s\n",
			truncate(v.Name, 20),
			colorizeInt(v.Position),
			comma(v.Buys),
			comma(v.Sells),
			money(v.AvgPrice),
			money(v.Cash),
			colorizeMoney(v.TotalEquity),
		)
	}
}

// renderFrame prints a server frame received while watching.
func renderFrame(env wire.Envelope) error {
	switch env.Type {
	case string(game.EventSnapshot):
		st, err := cl.DecodeState(env.Payload)
		if err != nil {
			return err
		}
		renderTick(st)
	case string(game.EventUsernameConfirmed):
		var p game.UsernamePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		printSuccess("Display name set to " + p.Name)
	case string(game.EventLiquidation):
		var p game.LiquidationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		danger.Printf("LIQUIDATED %s: %s shares closed at %d\n", p.Name, comma(p.Quantity), p.Price)
	case string(game.EventSessionEnded):
		var p game.SessionResults
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		renderResults(p)
	case string(game.EventResetConfirmed):
		var p game.MessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		printSuccess(p.Message)
	case string(game.EventAdminAuthResult):
		var p game.AdminAuthPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		if p.Success {
			printSuccess(p.Message)
		} else {
			printWarn(p.Message)
		}
	case string(game.EventRejected):
		var p game.RejectedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		printWarn(fmt.Sprintf("%s rejected: %s", p.Op, p.Message))
	case wire.TypeWelcome, wire.TypeAdminToken, string(game.EventExportResult):
	default:
		printInfo("unhandled frame: " + env.Type)
	}
	return nil
}

func renderResults(r game.SessionResults) {
	accent.Printf("\n== SESSION ENDED (fundamental %s) ==\n", comma(r.FundamentalValue))
	if len(r.Results) == 0 {
		printInfo("No traders took part.")
		fmt.Println()
		return
	}
	rows := make([]game.FinalResult, 0, len(r.Results))
	for _, res := range r.Results {
		rows = append(rows, res)
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].FinalWealth.Cmp(rows[j].FinalWealth); c != 0 {
			return c > 0
		}
		return rows[i].Name < rows[j].Name
	})
	fmt.Printf("%-6s %-20s %14s\n", "RANK", "TRADER", "WEALTH")
	for i, row := range rows {
		fmt.Printf("%-6d %-20s %14s\n", i+1, truncate(row.Name, 20), colorizeMoney(row.FinalWealth))
	}
	fmt.Println()
}

func renderTradeResult(qty int64, st wire.State) {
	side := game.SideBuy
	if qty < 0 {
		side = game.SideSell
	}
	accent.Printf("\n== %s %s ==\n", side, comma(abs(qty)))
	fmt.Printf("Market price: %s\n", comma(st.Market.MarketPrice))
	if you := st.You; you != nil {
		fmt.Printf("Position:     %s\n", colorizeInt(you.Position))
		fmt.Printf("Avg price:    %s\n", money(you.AvgPrice))
		fmt.Printf("Cash:         %s\n", money(you.Cash))
		fmt.Printf("Unrealized:   %s\n", colorizeMoney(you.Unrealized))
		fmt.Printf("Equity:       %s\n", colorizeMoney(you.TotalEquity))
	}
	fmt.Println()
}

func renderAction(action string, out cl.ActionResult) {
	msg := fmt.Sprintf("%s ok, market is %s", action, out.Phase)
	if out.Phase == game.PhaseCountdown {
		msg += fmt.Sprintf(" (%ds)", out.Countdown)
	}
	printSuccess(msg)
}

func renderExport(out game.Export) {
	info := out.GameInfo
	accent.Println("\n== EXPORT ==")
	if info.StartTime != nil {
		fmt.Printf("Started:      %s\n", info.StartTime.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Duration:     %ds\n", info.Duration)
	fmt.Printf("Completed:    %t\n", info.IsCompleted)
	if info.IsCompleted {
		fmt.Printf("Fundamental:  %s\n", comma(info.FinalFundamentalValue))
	}
	fmt.Println()
	if len(out.Users) == 0 {
		printInfo("No participants.")
		return
	}
	fmt.Printf("%-20s %8s %8s %8s %12s %12s %14s %7s\n", "NAME", "POS", "BUYS", "SELLS", "AVG", "CASH", "WEALTH", "TRADES")
	for _, u := range out.Users {
		s := u.FinalStats
		fmt.Printf("%-20s %8s %8s %8s %12s %12s %14s %7d\n",
			truncate(u.Name, 20),
			colorizeInt(s.Position),
			comma(s.TotalBuys),
			comma(s.TotalSells),
			money(s.AvgPrice),
			money(s.Cash),
			colorizeMoney(s.FinalWealth),
			len(u.TradeHistory),
		)
	}
	fmt.Println()
}

func colorizeInt(v int64) string {
	text := strconv.FormatInt(v, 10)
	switch {
	case v > 0:
		return success.Sprint("+" + comma(v))
	case v < 0:
		return danger.Sprint("-" + comma(-v))
	default:
		return neutral.Sprint(text)
	}
}

func colorizeMoney(v decimal.Decimal) string {
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + money(v))
	case -1:
		return danger.Sprint(money(v))
	default:
		return neutral.Sprint(money(v))
	}
}

func money(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	whole := v.Truncate(0)
	frac := v.Sub(whole).Shift(2).Round(0).IntPart()
	if frac == 100 {
		whole = whole.Add(decimal.NewFromInt(1))
		frac = 0
	}
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole.IntPart()), frac)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func comma(v int64) string {
	if v < 0 {
		return "-" + comma(-v)
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

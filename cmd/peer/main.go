package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"wildlink.gg/internal/catalogs"
	"wildlink.gg/internal/creature"
	"wildlink.gg/internal/inventory"
	"wildlink.gg/internal/persistence/journal"
	"wildlink.gg/internal/persistence/tradedb"
	"wildlink.gg/internal/protocol"
	"wildlink.gg/internal/trade"
	"wildlink.gg/internal/transport/ws"
	"wildlink.gg/internal/tuning"
)

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "relay ws url")
		name       = flag.String("name", "tamer", "tamer name")
		configDir  = flag.String("config-dir", "./configs", "config directory")
		dataDir    = flag.String("data-dir", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		seed       = flag.Int64("seed", 0, "starter roll seed (0 = time-based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[peer] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	logger.Printf("catalogs: %d items (%s), %d species (%s)",
		len(cats.Items.Defs), cats.Items.DefsDigest[:12],
		len(cats.Species.Defs), cats.Species.DefsDigest[:12])

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if tune.ProtocolVersion != protocol.Version {
		logger.Fatalf("tuning protocol_version %q does not match binary %q", tune.ProtocolVersion, protocol.Version)
	}

	peerDir := filepath.Join(*dataDir, "peers", *name)

	hist, err := tradedb.Open(filepath.Join(peerDir, "trades.db"))
	if err != nil {
		logger.Fatalf("open trade history: %v", err)
	}
	defer hist.Close()

	jour := journal.Open(peerDir)
	defer jour.Close()

	inv := inventory.NewStore(*name, cats)
	locks := inventory.NewLocks()
	seedStarters(inv, cats, tune, *name, *seed)
	logger.Printf("inventory seeded: %d creatures, %d item stacks", len(inv.Creatures()), len(inv.Items()))

	ctx, cancel := signalContext()
	defer cancel()

	client, err := ws.Dial(ctx, *url, *name, logger)
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer client.Close()
	self := client.Self()
	logger.Printf("connected as %s (%s)", self.ID, self.Name)

	co, err := trade.New(trade.Config{
		Self:              self,
		LockWindow:        time.Duration(tune.LockSeconds) * time.Second,
		Cooldown:          time.Duration(tune.CooldownSeconds) * time.Second,
		RequestTTL:        time.Duration(tune.RequestTTLSeconds) * time.Second,
		MaxCreatures:      tune.MaxCreatures,
		MaxItemStacks:     tune.MaxItemStacks,
		ExecRetryEvery:    time.Duration(tune.ExecRetrySeconds) * time.Second,
		ExecRetryAttempts: tune.ExecRetryAttempts,
	}, trade.Deps{
		Inventory: inv,
		Catalog:   &cats.Items,
		Guard:     locks,
		Transport: client,
		History:   hist,
		Journal:   jour,
		Log:       logger,
	})
	if err != nil {
		logger.Fatalf("trade coordinator: %v", err)
	}

	go func() {
		if err := co.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("coordinator stopped: %v", err)
		}
	}()
	go func() {
		if err := client.Run(ctx, co.Inbox(), co.PeerEvents()); err != nil && ctx.Err() == nil {
			logger.Printf("relay connection lost: %v", err)
			cancel()
		}
	}()
	go printEvents(ctx, co.Events())
	go runREPL(ctx, cancel, co, inv, locks, hist)

	// Exit on quit, EOF, lost relay or a signal. Stdin may still be
	// blocked in a read; process exit takes care of that goroutine.
	<-ctx.Done()
	logger.Printf("shutting down")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// seedStarters grants the configured starter creatures and item
// stacks to a fresh inventory.
func seedStarters(inv *inventory.Store, cats *catalogs.Catalogs, tune tuning.Tuning, tamer string, seed int64) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(seed))

	if len(cats.Species.Palette) > 0 {
		for i := 0; i < tune.StarterCreatures; i++ {
			id := cats.Species.Palette[r.Intn(len(cats.Species.Palette))]
			def, _ := cats.Species.Get(id)
			inv.Put(creature.Roll(def, tamer, r))
		}
	}
	for item, qty := range tune.StarterItems {
		if cats.Items.KnownItem(item) {
			inv.Grant(item, qty)
		}
	}
}

func printEvents(ctx context.Context, events <-chan protocol.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Printf("<< %s\n", b)
		}
	}
}

func runREPL(ctx context.Context, cancel context.CancelFunc, co *trade.Coordinator, inv *inventory.Store, locks *inventory.Locks, hist *tradedb.Store) {
	fmt.Println(`type "help" for commands`)
	sc := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !sc.Scan() {
			cancel()
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		var err error
		switch cmd {
		case "help":
			printHelp()
		case "peers":
			err = printPeers(co)
		case "status", "offer":
			err = printStatus(co)
		case "inv":
			printInventory(inv, locks)
		case "request":
			if len(args) != 1 {
				fmt.Println("usage: request <peer-id>")
				continue
			}
			err = co.SendTradeRequest(args[0])
		case "accept":
			err = co.AcceptTradeRequest()
		case "decline":
			err = co.DeclineTradeRequest()
		case "cancel":
			err = co.CancelTrade()
		case "addc":
			if len(args) != 1 {
				fmt.Println("usage: addc <creature-ref>")
				continue
			}
			err = co.AddCreatureToOffer(args[0])
		case "remc":
			if len(args) != 1 {
				fmt.Println("usage: remc <creature-ref>")
				continue
			}
			err = co.RemoveCreatureFromOffer(args[0])
		case "addi", "remi":
			if len(args) != 2 {
				fmt.Printf("usage: %s <item-id> <qty>\n", cmd)
				continue
			}
			qty, convErr := strconv.Atoi(args[1])
			if convErr != nil {
				fmt.Println("qty must be a number")
				continue
			}
			if cmd == "addi" {
				err = co.AddItemToOffer(args[0], qty)
			} else {
				err = co.RemoveItemFromOffer(args[0], qty)
			}
		case "add", "remove":
			// One arg is a creature ref, two is an item and quantity.
			switch len(args) {
			case 1:
				if cmd == "add" {
					err = co.AddCreatureToOffer(args[0])
				} else {
					err = co.RemoveCreatureFromOffer(args[0])
				}
			case 2:
				qty, convErr := strconv.Atoi(args[1])
				if convErr != nil {
					fmt.Println("qty must be a number")
					continue
				}
				if cmd == "add" {
					err = co.AddItemToOffer(args[0], qty)
				} else {
					err = co.RemoveItemFromOffer(args[0], qty)
				}
			default:
				fmt.Printf("usage: %s <creature-ref> | %s <item-id> <qty>\n", cmd, cmd)
				continue
			}
		case "ready":
			err = co.SetReady(true)
		case "unready":
			err = co.SetReady(false)
		case "lock":
			if len(args) != 2 {
				fmt.Println("usage: lock <creature-ref> <activity>")
				continue
			}
			locks.Lock(args[0], args[1])
		case "unlock":
			if len(args) != 1 {
				fmt.Println("usage: unlock <creature-ref>")
				continue
			}
			locks.Unlock(args[0])
		case "history":
			err = printHistory(hist)
		case "quit", "exit":
			cancel()
			return
		default:
			fmt.Printf("unknown command %q (try help)\n", cmd)
		}
		if err != nil {
			fmt.Printf("error: %v (%s)\n", err, trade.CodeFor(err))
		}
	}
}

func printHelp() {
	fmt.Print(`commands:
  peers                     list connected peers
  status | offer            show trade session state
  inv                       show creatures and items
  request <peer-id>         send a trade request
  accept | decline          answer a pending request
  add <ref>                 offer a creature (addc works too)
  add <item> <qty>          offer items (addi works too)
  remove <ref>              withdraw a creature (remc)
  remove <item> <qty>       withdraw items (remi)
  ready | unready           toggle ready state
  cancel                    cancel the trade
  lock <ref> <activity>     tie a creature up (blocks offering it)
  unlock <ref>              release a creature
  history                   recent completed trades
  quit
`)
}

func printPeers(co *trade.Coordinator) error {
	st, err := co.Status()
	if err != nil {
		return err
	}
	if len(st.Peers) == 0 {
		fmt.Println("no other peers connected")
		return nil
	}
	for _, p := range st.Peers {
		fmt.Printf("  %s  %s\n", p.ID, p.Name)
	}
	return nil
}

func printStatus(co *trade.Coordinator) error {
	st, err := co.Status()
	if err != nil {
		return err
	}
	if st.Session == nil {
		fmt.Println("no active session")
	} else {
		s := st.Session
		fmt.Printf("session %s with %s (%s), state=%s\n", s.ID, s.Partner.ID, s.Partner.Name, s.State)
		if s.LockRemaining > 0 {
			fmt.Printf("  executes in %s\n", s.LockRemaining.Round(time.Millisecond))
		}
		printOffer("mine", s.Mine)
		printOffer("theirs", s.Theirs)
		for _, p := range s.TheirPreviews {
			fmt.Printf("  preview: %s lv%d (%s) genes=%v\n", p.SpeciesID, p.Level, p.Nickname, p.Genes)
		}
	}
	if st.PendingFrom != nil {
		fmt.Printf("pending request from %s (%s)\n", st.PendingFrom.ID, st.PendingFrom.Name)
	}
	if st.OutboundTo != "" {
		fmt.Printf("awaiting answer from %s\n", st.OutboundTo)
	}
	if st.CooldownLeft > 0 {
		fmt.Printf("trade cooldown: %s left\n", st.CooldownLeft.Round(time.Second))
	}
	if st.AwaitingAck != "" {
		fmt.Printf("awaiting delivery ack for session %s\n", st.AwaitingAck)
	}
	return nil
}

func printOffer(side string, o trade.OfferView) {
	fmt.Printf("  %s: ready=%v", side, o.Ready)
	if len(o.Creatures) == 0 && len(o.Items) == 0 {
		fmt.Println(" (empty)")
		return
	}
	fmt.Println()
	for _, ref := range o.Creatures {
		fmt.Printf("    creature %s\n", ref)
	}
	for item, qty := range o.Items {
		fmt.Printf("    %dx %s\n", qty, item)
	}
}

func printInventory(inv *inventory.Store, locks *inventory.Locks) {
	for _, c := range inv.Creatures() {
		line := "  " + c.String()
		if activity, ok := locks.Activity(c.Ref); ok {
			line += fmt.Sprintf(" [locked: %s]", activity)
		}
		fmt.Println(line)
	}
	for _, st := range inv.Items() {
		fmt.Printf("  %4dx %s\n", st.Count, st.Item)
	}
}

func printHistory(hist *tradedb.Store) error {
	recs, err := hist.Recent(10)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no completed trades")
		return nil
	}
	for _, rec := range recs {
		fmt.Printf("  %s  %s (%s)  sent %d creatures, %d items\n",
			rec.CompletedAt.Format(time.RFC3339), rec.Partner, rec.PartnerName,
			rec.CreaturesSent, rec.ItemsSent)
	}
	return nil
}

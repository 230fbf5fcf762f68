package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/execution"
	"github.com/suprabook/chainbook/model/chain"
	"github.com/suprabook/chainbook/model/ledger"
	"github.com/suprabook/chainbook/network"
	"github.com/suprabook/chainbook/rpc"
)

// dialTimeout bounds the console's initial connection attempt to the
// node's RPC listener.
const dialTimeout = 5 * time.Second

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console <id>",
		Short: "launch a client console attached to the given node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(args[0])
		},
	}
}

// identity is the console's client-local keypair and nonce tracker
// (§6.2 create_account: "client-local; no server state"). The console
// trusts its own count of submitted transactions for the next nonce
// rather than querying it, which is adequate for a single interactive
// session talking to one node.
type identity struct {
	pub   crypto.PublicKey
	sk    crypto.PrivateKey
	nonce uint64
}

func runConsole(idArg string) error {
	id, err := strconv.ParseUint(idArg, 10, 32)
	if err != nil {
		return err
	}
	self := chain.ValidatorID(id)
	log := newLogger()

	// The console only needs the target node's RPC address, which
	// depends on the --rpc-base-port flag and the node id, not the full
	// peer roster newAddressBook builds for consensus wiring.
	addr := fmt.Sprintf("127.0.0.1:%d", rpcBase+int(self))

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("could not connect to node %d at %s: %w", self, addr, err)
	}
	defer conn.Close()

	log.Info().Str("addr", addr).Msg("console connected")

	pub, sk, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	me := &identity{pub: pub, sk: sk}
	fmt.Printf("local account: %s\n", me.pub.String())

	fmt.Println("commands: create_account | drip <USD|SUPE> [to] | balance [pubkey] | markets | buy <qty> <price> | sell <qty> <price> | market-buy <qty> | market-sell <qty> | cancel <order_id> | orders [pubkey] | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		if cmd == "quit" || cmd == "exit" {
			return nil
		}

		resp, err := dispatch(conn, me, cmd, args)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		printResponse(resp)
	}
}

func dispatch(conn net.Conn, me *identity, cmd string, args []string) (*rpc.Response, error) {
	switch cmd {
	case "create_account":
		pub, sk, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		me.pub, me.sk, me.nonce = pub, sk, 0
		fmt.Printf("local account: %s\n", me.pub.String())
		return &rpc.Response{Ok: true}, nil

	case "drip":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: drip <USD|SUPE> [to]")
		}
		asset, ok := assetBySymbol(args[0])
		if !ok {
			return nil, fmt.Errorf("unknown asset %q", args[0])
		}
		to := me.pub
		if len(args) >= 2 {
			parsed, err := parsePublicKey(args[1])
			if err != nil {
				return nil, err
			}
			to = parsed
		}
		return send(conn, &rpc.Request{Cmd: rpc.CmdDrip, DripAsset: asset, DripTo: to})

	case "balance":
		owner := me.pub
		if len(args) >= 1 {
			parsed, err := parsePublicKey(args[0])
			if err != nil {
				return nil, err
			}
			owner = parsed
		}
		return send(conn, &rpc.Request{Cmd: rpc.CmdQueryBalance, Owner: owner})

	case "markets":
		return send(conn, &rpc.Request{Cmd: rpc.CmdListMarkets})

	case "buy", "sell":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: %s <qty> <price>", cmd)
		}
		qty, price, err := parseQtyPrice(args[0], args[1])
		if err != nil {
			return nil, err
		}
		side := ledger.SideBid
		if cmd == "sell" {
			side = ledger.SideAsk
		}
		tx := me.sign(&ledger.Payload{
			Kind:       ledger.KindPlaceLimit,
			PlaceLimit: &ledger.PlaceLimit{Market: uint32(execution.MarketSUPEUSD), Side: side, Price: price, Qty: qty},
		})
		return send(conn, &rpc.Request{Cmd: rpc.CmdSubmitTx, Tx: tx})

	case "market-buy", "market-sell":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: %s <qty>", cmd)
		}
		qty, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return nil, err
		}
		side := ledger.SideBid
		if cmd == "market-sell" {
			side = ledger.SideAsk
		}
		tx := me.sign(&ledger.Payload{
			Kind:        ledger.KindPlaceMarket,
			PlaceMarket: &ledger.PlaceMarket{Market: uint32(execution.MarketSUPEUSD), Side: side, Qty: qty},
		})
		return send(conn, &rpc.Request{Cmd: rpc.CmdSubmitTx, Tx: tx})

	case "cancel":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: cancel <order_id>")
		}
		orderID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return nil, err
		}
		tx := me.sign(&ledger.Payload{Kind: ledger.KindCancel, Cancel: &ledger.Cancel{OrderID: orderID}})
		return send(conn, &rpc.Request{Cmd: rpc.CmdSubmitTx, Tx: tx})

	case "orders":
		owner := me.pub
		if len(args) >= 1 {
			parsed, err := parsePublicKey(args[0])
			if err != nil {
				return nil, err
			}
			owner = parsed
		}
		return send(conn, &rpc.Request{Cmd: rpc.CmdQueryOpenOrders, Owner: owner})

	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

// sign builds and signs a transaction at the identity's next nonce,
// advancing it so a second command in the same session doesn't replay
// the same nonce (§3 "monotonically increasing nonce").
func (me *identity) sign(payload *ledger.Payload) *ledger.Transaction {
	tx := &ledger.Transaction{Sender: me.pub, Nonce: me.nonce, Class: ledger.ClassNormal, Payload: *payload}
	tx.Sign(me.sk)
	me.nonce++
	return tx
}

func assetBySymbol(symbol string) (ledger.AssetID, bool) {
	switch strings.ToUpper(symbol) {
	case "USD":
		return execution.AssetUSD, true
	case "SUPE":
		return execution.AssetSUPE, true
	default:
		return 0, false
	}
}

func parsePublicKey(hexStr string) (crypto.PublicKey, error) {
	return crypto.PublicKeyFromHex(hexStr)
}

func parseQtyPrice(qtyStr, priceStr string) (qty, price uint64, err error) {
	qty, err = strconv.ParseUint(qtyStr, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	price, err = strconv.ParseUint(priceStr, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return qty, price, nil
}

func send(conn net.Conn, req *rpc.Request) (*rpc.Response, error) {
	data, err := rpc.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := network.WriteFrame(conn, data); err != nil {
		return nil, rpc.ErrTransportLost
	}
	frame, err := network.ReadFrame(conn)
	if err != nil {
		return nil, rpc.ErrTransportLost
	}
	return rpc.DecodeResponse(frame)
}

func printResponse(resp *rpc.Response) {
	if !resp.Ok {
		fmt.Println("error:", resp.Error)
		return
	}
	if resp.Balances != nil {
		for _, b := range resp.Balances {
			fmt.Printf("asset %d: %d\n", b.Asset, b.Amount)
		}
	}
	if resp.Markets != nil {
		for _, m := range resp.Markets {
			fmt.Printf("market %d: base=%d quote=%d tick=%d lot=%d\n", m.ID, m.Base, m.Quote, m.Tick, m.Lot)
		}
	}
	if resp.Orders != nil {
		for _, o := range resp.Orders {
			fmt.Printf("order %d: side=%s price=%d remaining=%d\n", o.ID, o.Side, o.Price, o.Remaining)
		}
	}
	if resp.OrderID != nil {
		fmt.Printf("order_id=%d residual=%d\n", *resp.OrderID, resp.Residual)
		for _, f := range resp.Fills {
			fmt.Printf("  fill: maker=%d price=%d qty=%d\n", f.MakerOrderID, f.Price, f.Qty)
		}
	}
	if resp.Balances == nil && resp.Markets == nil && resp.Orders == nil && resp.OrderID == nil {
		fmt.Println("ok")
	}
}

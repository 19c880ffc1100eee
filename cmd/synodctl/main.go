// Command synodctl talks to a running synodd cluster.
//
//	synodctl submit <node> <value>   submit a value through one node
//	synodctl print [node...]         print the committed record of nodes
//	synodctl scenario <name>         run single | a-wins | b-wins
//	synodctl                         interactive menu
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/senutpal/synod/internal/config"
	"github.com/senutpal/synod/internal/paxos"
	"github.com/senutpal/synod/internal/transport"
)

const requestTimeout = 30 * time.Second

type client struct {
	cfg config.Config
	out io.Writer
}

func (c *client) call(id int, m *paxos.Message) (*paxos.Reply, error) {
	if !c.cfg.Valid(id) {
		return nil, fmt.Errorf("no node %d in a cluster of %d", id, c.cfg.Size())
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return transport.Call(ctx, c.cfg.Addr(id), m)
}

func (c *client) submit(id int, value string) {
	r, err := c.call(id, &paxos.Message{Type: paxos.MsgSubmit, Value: paxos.Value(value)})
	if err != nil {
		fmt.Fprintf(c.out, "Could not connect to Node %d: %v\n", id, err)
		return
	}
	fmt.Fprintf(c.out, "Node %d: %s\n", id, r.Message)
}

func (c *client) print(id int) {
	r, err := c.call(id, &paxos.Message{Type: paxos.MsgPrint})
	if err != nil {
		fmt.Fprintf(c.out, "[ERROR] Could not connect to Node %d: %v\n", id, err)
		return
	}
	fmt.Fprintln(c.out, r.Message)
}

func (c *client) printAll() {
	for id := 0; id < c.cfg.Size(); id++ {
		c.print(id)
	}
	fmt.Fprintln(c.out)
}

func (c *client) scenario(name string) error {
	switch name {
	case "single":
		c.submit(rand.Intn(c.cfg.Size()), "Same value")
	case "a-wins":
		c.submit(2%c.cfg.Size(), "B's value")
		time.Sleep(200 * time.Millisecond)
		c.submit(1%c.cfg.Size(), "A's value")
	case "b-wins":
		c.submit(0, "A's value")
		c.submit(2%c.cfg.Size(), "B's value")
	default:
		return fmt.Errorf("unknown scenario %q", name)
	}
	c.printAll()
	return nil
}

func (c *client) menu(in io.Reader) {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprintln(c.out, "\nPaxos Client Menu:")
		fmt.Fprintln(c.out, "1. Single proposer")
		fmt.Fprintln(c.out, "2. Two proposers (A wins)")
		fmt.Fprintln(c.out, "3. Two proposers (B wins)")
		fmt.Fprintln(c.out, "4. Print all nodes")
		fmt.Fprintln(c.out, "5. Exit")
		fmt.Fprint(c.out, "Enter your choice (1-5): ")
		if !sc.Scan() {
			return
		}
		switch strings.TrimSpace(sc.Text()) {
		case "1":
			c.scenario("single")
		case "2":
			c.scenario("a-wins")
		case "3":
			c.scenario("b-wins")
		case "4":
			c.printAll()
		case "5":
			fmt.Fprintln(c.out, "Exiting...")
			return
		default:
			fmt.Fprintln(c.out, "Invalid choice. Please try again.")
		}
	}
}

func main() {
	cfgPath := flag.String("config", "cluster.json", "cluster config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	c := &client{cfg: cfg, out: os.Stdout}

	args := flag.Args()
	if len(args) == 0 {
		c.menu(os.Stdin)
		return
	}

	switch args[0] {
	case "submit":
		if len(args) != 3 {
			log.Fatal("usage: synodctl submit <node> <value>")
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("bad node id %q", args[1])
		}
		c.submit(id, args[2])
	case "print":
		if len(args) == 1 {
			c.printAll()
			return
		}
		for _, a := range args[1:] {
			id, err := strconv.Atoi(a)
			if err != nil {
				log.Fatalf("bad node id %q", a)
			}
			c.print(id)
		}
	case "scenario":
		if len(args) != 2 {
			log.Fatal("usage: synodctl scenario single|a-wins|b-wins")
		}
		if err := c.scenario(args[1]); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("unknown command %q", args[0])
	}
}

// Command sample-target is a tiny fixture process for exercising scanflow
// by hand: it holds a global pointer to a heap-allocated account struct
// whose balance mutates once per tick, the "global -> pointer -> struct
// field" shape offset chains are built to recover. It carries no scanflow
// imports of its own.
package main

import (
	"bufio"
	"fmt"
	"os"
)

// account holds a name, a balance, and an access counter that drives the
// balance's mutation rule.
type account struct {
	name     string
	money    int64
	accessed uint64
}

func (a *account) tick() {
	a.accessed++
	if a.accessed%10 != 0 {
		a.money--
	} else {
		a.money += 11
	}
}

// state is a tick counter plus a pointer to the account, so the
// account's address (and therefore its money field) only exists behind
// one level of indirection from this global.
type state struct {
	tick    uint64
	account *account
}

// globalState is the single global pointer scanflow's offset-chain
// resolver is meant to find its way to, via a code-referenced global once
// this binary is built and its image is disassembled.
var globalState *state

func main() {
	fmt.Println("Enter your name:")

	reader := bufio.NewReader(os.Stdin)
	name, _ := reader.ReadString('\n')
	name = trimNewline(name)

	globalState = &state{
		tick: 0,
		account: &account{
			name:  name,
			money: 100,
		},
	}

	buf := make([]byte, 10)
	for {
		fmt.Printf("%+v\n", globalState)
		fmt.Printf("%+v\n", *globalState.account)
		if _, err := os.Stdin.Read(buf); err != nil {
			return
		}
		globalState.tick++
		globalState.account.tick()
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Command engram is the CLI front end for the engram learning substrate
// (spec §6). It is an I/O edge over the core packages in internal/: it
// opens the per-project store, wires a Repository, and calls straight
// into capture/reflect/curate/apply/learn/bbon/judge/adopt.
package main

func main() {
	Execute()
}

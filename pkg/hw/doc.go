// Package hw provides the hardware collaborators used during bring-up.
//
// Real drivers live outside this module. The Sim types implement the same
// contracts so a node can be brought up on a host and in tests.
package hw

// Package worker is the reference driving loop: a Poller selects processable
// events and a Processor takes each through claim, reconcile and the terminal
// write.
package worker

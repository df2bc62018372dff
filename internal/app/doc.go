// Package app wires detection and distribution together. The Monitor owns
// the last known donation total and turns polls and inbound triggers into
// events on the hub. Each Forwarder drains its own hub handle into one
// downstream sink with an explicit connection state machine. Pipeline runs
// them as one group.
package app

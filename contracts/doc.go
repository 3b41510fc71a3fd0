// Package contracts provides the core types and interfaces of the mmate bus.
//
// This package defines the contracts shared by every part of the bus:
//   - Message: the envelope that travels between senders and listeners
//   - MessageListener: receives messages delivered by a destination
//   - InboundMessageProcessor / OutboundMessageProcessor: per-message hooks
//   - DestinationConfiguration: how a destination is built
//   - DestinationStatistics: point-in-time pool and delivery counters
//
// It has no dependencies on the rest of the module so listeners and
// processors can be written against it alone.
package contracts

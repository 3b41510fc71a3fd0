// Package messaging implements the in-process message bus.
//
// A MessageBus holds named destinations. Each destination has one of three
// delivery strategies:
//   - Synchronous: listeners run on the sending goroutine
//   - Serial: one worker processes one message at a time, in send order
//   - Parallel: each listener gets its own task on a resizable worker pool
//
// Async destinations bound their queue and hand messages they cannot accept
// to a rejection handler instead of blocking the sender.
//
// Synchronous request/response is layered on top: the default sender tags
// the request with a fresh response id, listens on a response destination
// for a message carrying that id, and gives up after a timeout.
//
// Example usage:
//
//	bus := messaging.NewMessageBus()
//	bus.SetSenderFactory(messaging.NewSenderFactory(bus))
//	_ = bus.RegisterDefaultDestinations()
//
//	_, err := bus.RegisterDestination(contracts.NewParallelDestinationConfiguration("orders"), nil)
//	if err != nil {
//		return err
//	}
//
//	builders := messaging.NewMessageBuilderFactory(bus)
//	_ = bus.AddMessageListener(contracts.MessageListenerFunc(
//		func(ctx context.Context, msg *contracts.Message) error {
//			return builders.CreateResponse(msg).SetPayload("accepted").Send(ctx)
//		}), contracts.NewProperties("orders"))
//
//	reply, err := bus.SendSynchronousPayload(ctx, "orders", order, "")
package messaging

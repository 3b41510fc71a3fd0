// Package interceptors provides cross-cutting behaviour for bus listeners
// and destinations.
//
// Two mechanisms are offered:
//   - Interceptor chains wrap a single MessageListener, in registration order
//   - Processor factories plug into a destination's inbound and outbound hooks
//
// Built-in pieces:
//   - LoggingInterceptor / NewLoggingInboundFactory / NewLoggingOutboundFactory
//   - MetricsInterceptor / NewMetricsInboundFactory with SimpleMetricsCollector
//   - NewStatusInboundFactory: reports a MessageStatus for every delivery
package interceptors

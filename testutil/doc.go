// Package testutil provides shared test doubles and sample data for
// phasorstreams packages.
//
// SampleDocument returns a metadata document with one concentrator
// connection (PDC, devices DEVA and DEVB) and one output stream (PDCOUT)
// whose measurement keys line up, so the same keys flow from an inbound
// mapper to an outbound concentrator. SampleConfiguration and SampleData
// build the matching protocol frames.
//
// MockNATSClient is an in-memory bus with natsclient.Client's Publish and
// Subscribe signatures and NATS wildcard matching. ChannelFactory and
// FakeChannel stand in for transport channels:
//
//	channels := &testutil.ChannelFactory{}
//	m, _ := mapper.New(mapper.Deps{..., NewChannel: channels.New})
//	_ = m.Start(ctx)
//	channels.Latest("PDC").Deliver("device", image)
package testutil

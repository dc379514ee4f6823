// Package stream composes lazy, pull-based operators over provider.Iterator
// values, most commonly channel monitors.
//
// No work happens until a terminal (Collect, ForEach, First) pulls values.
// Terminals close the source iterator on every exit path, so a monitor
// wrapped in a Stream is released when the terminal returns:
//
//	mon, _ := ch.Monitor(ctx)
//	v, err := stream.First(ctx, stream.Filter(stream.From(mon), func(v provider.Value) bool {
//	    return v.(float64) > 3
//	}))
package stream

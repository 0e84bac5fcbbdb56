// Package restyutil dumps full request/response exchanges of a resty
// client to an output sink. The browserless function endpoint takes a
// script and hands back rendered artifacts; when an extraction goes
// wrong the dump of what actually went over the wire is usually the
// only way to see why.
package restyutil

import (
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type InstrumentOutput interface {
	Write(id string, contents string)
}

// InstrumentDump writes each completed exchange to output. A nil
// output makes the function a no-op. Tracing is not touched here;
// telemetry.InstrumentResty owns the spans.
func InstrumentDump(client *resty.Client, output InstrumentOutput) {
	if output == nil {
		return
	}

	var idcounter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		messageId := strconv.FormatUint(atomic.AddUint64(&idcounter, 1), 10)
		output.Write(messageId, formatHttpMessage(res))
		slog.DebugContext(
			res.Request.Context(), "request completed",
			"method", res.Request.Method,
			"url", res.Request.URL,
			"message_id", messageId,
		)
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		slog.DebugContext(
			req.Context(), "request failed",
			"method", req.Method,
			"url", req.URL,
			"err", err,
		)
	})
}

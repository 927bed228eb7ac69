package transport

var Backoff = backoff

// MarkOpen puts c in the open state with out as its outbound queue.
func (c *Conn) MarkOpen(out chan []byte) { c.setStatus(StatusOpen, out) }

func (c *Conn) WriterFailed(out chan []byte) { c.writerFailed(out) }

package pool

// mailbox is an unbounded command queue between handle callers and one
// worker goroutine. A pump goroutine shuttles commands from in to out
// through a slice buffer, so senders only ever block for the moment it
// takes the pump to append. Closing in flushes the buffer to the worker
// and then closes out.
type mailbox struct {
	in  chan command
	out chan command
}

func newMailbox() *mailbox {
	m := &mailbox{
		in:  make(chan command),
		out: make(chan command),
	}
	go m.pump()
	return m
}

func (m *mailbox) pump() {
	var buffer []command
	for {
		var ready chan command
		var next command
		if len(buffer) > 0 {
			ready = m.out
			next = buffer[0]
		}
		select {
		case cmd, ok := <-m.in:
			if !ok {
				for _, queued := range buffer {
					m.out <- queued
				}
				close(m.out)
				return
			}
			buffer = append(buffer, cmd)
		case ready <- next:
			buffer = buffer[1:]
		}
	}
}

func (m *mailbox) send(cmd command) {
	m.in <- cmd
}

func (m *mailbox) close() {
	close(m.in)
}

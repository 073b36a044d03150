package concentrator

import (
	"sync"

	"github.com/c360/phasorstreams/phasor"
)

// commandClients reassembles command frames per connected client.
type commandClients struct {
	onCommand   func(remote string, cf *phasor.CommandFrame)
	onException func(remote string, err error)

	mu      sync.Mutex
	parsers map[string]*phasor.Parser
}

func newCommandClients(onCommand func(string, *phasor.CommandFrame), onException func(string, error)) *commandClients {
	return &commandClients{
		onCommand:   onCommand,
		onException: onException,
		parsers:     make(map[string]*phasor.Parser),
	}
}

// write feeds bytes received from remote to its parser.
func (cc *commandClients) write(remote string, data []byte) {
	cc.mu.Lock()
	p, ok := cc.parsers[remote]
	if !ok {
		p = phasor.NewParser(phasor.Handlers{
			Command:   func(cf *phasor.CommandFrame) { cc.onCommand(remote, cf) },
			Exception: func(err error) { cc.onException(remote, err) },
		})
		cc.parsers[remote] = p
	}
	cc.mu.Unlock()
	_, _ = p.Write(data)
}

func (cc *commandClients) remove(remote string) {
	cc.mu.Lock()
	delete(cc.parsers, remote)
	cc.mu.Unlock()
}

func (cc *commandClients) reset() {
	cc.mu.Lock()
	cc.parsers = make(map[string]*phasor.Parser)
	cc.mu.Unlock()
}

func (cc *commandClients) count() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.parsers)
}

/* SPU asynchronous DMA engine.

   Copyright 2025, GSCX Authors

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   THE AUTHORS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package spu

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gscx/cell/emu/memory"
)

// dmaDescriptor is one queued transfer between the Local Store and the
// shared address space. Descriptors are ephemeral; none outlives its
// transfer.
type dmaDescriptor struct {
	lsAddr uint32
	ea     uint64
	size   uint32
	tag    uint32
	put    bool // Local Store to shared memory when set.
}

// dmaEngine services descriptors on a single worker goroutine, which makes
// completion within one tag FIFO. Completion order across tags is
// unspecified and callers may not rely on it.
type dmaEngine struct {
	log *slog.Logger
	ls  []byte
	mem *memory.Memory

	queue chan dmaDescriptor
	wg    sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[uint32]int // Outstanding descriptors per tag.
}

func newDMAEngine(log *slog.Logger, ls []byte, mem *memory.Memory) *dmaEngine {
	engine := &dmaEngine{
		log:     log,
		ls:      ls,
		mem:     mem,
		queue:   make(chan dmaDescriptor, 32),
		pending: map[uint32]int{},
	}
	engine.cond = sync.NewCond(&engine.mu)
	engine.wg.Add(1)
	go engine.worker()
	return engine
}

// submit validates the descriptor ranges and queues it. Rejected
// descriptors are logged and never become outstanding.
func (e *dmaEngine) submit(desc dmaDescriptor) bool {
	if desc.lsAddr+desc.size > LocalStoreSize || desc.lsAddr > desc.lsAddr+desc.size {
		e.log.Error("DMA local store range invalid",
			"lsAddr", fmt.Sprintf("%#x", desc.lsAddr), "size", desc.size)
		return false
	}
	if !e.mem.CheckAddr(desc.ea, desc.size) {
		e.log.Error("DMA external range invalid",
			"ea", fmt.Sprintf("%#x", desc.ea), "size", desc.size)
		return false
	}

	e.mu.Lock()
	e.pending[desc.tag]++
	e.mu.Unlock()

	e.queue <- desc
	return true
}

// wait blocks until no outstanding descriptor has a tag intersecting the
// mask. Tags the caller never issued do not block it.
func (e *dmaEngine) wait(tagMask uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.pendingMatch(tagMask) {
		e.cond.Wait()
	}
}

func (e *dmaEngine) pendingMatch(tagMask uint32) bool {
	for tag, count := range e.pending {
		if count > 0 && (tagMask&(1<<(tag&0x1f))) != 0 {
			return true
		}
	}
	return false
}

func (e *dmaEngine) worker() {
	defer e.wg.Done()
	for desc := range e.queue {
		e.transfer(desc)

		e.mu.Lock()
		e.pending[desc.tag]--
		if e.pending[desc.tag] <= 0 {
			delete(e.pending, desc.tag)
		}
		e.cond.Broadcast()
		e.mu.Unlock()
	}
}

func (e *dmaEngine) transfer(desc dmaDescriptor) {
	if desc.put {
		if err := e.mem.WriteBytes(desc.ea, e.ls[desc.lsAddr:desc.lsAddr+desc.size]); err != nil {
			e.log.Error("DMA put failed: " + err.Error())
		}
		return
	}
	buf, err := e.mem.ReadBytes(desc.ea, desc.size)
	if err != nil {
		e.log.Error("DMA get failed: " + err.Error())
		return
	}
	copy(e.ls[desc.lsAddr:], buf)
}

// close drains the queue and stops the worker.
func (e *dmaEngine) close() {
	close(e.queue)
	e.wg.Wait()
}

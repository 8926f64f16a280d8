/* Hypervisor security manager: per LPAR privilege records.

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

package hypervisor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gscx/cell/util/logger"
)

// SecurityManager keeps the privilege mask granted to each registered
// LPAR. A privilege is held only while its partition is registered; an
// unregistered identity holds nothing.
type SecurityManager struct {
	log *slog.Logger

	mu      sync.Mutex
	granted map[uint32]uint64
}

func NewSecurityManager() *SecurityManager {
	return &SecurityManager{log: logger.Component("HVSecurity")}
}

func (s *SecurityManager) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = map[uint32]uint64{}
	s.log.Info("Security manager initialized")
	return nil
}

func (s *SecurityManager) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = nil
}

// Register records the initial privilege mask for a new partition.
func (s *SecurityManager) Register(lparID uint32, privileges uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.granted == nil {
		return
	}
	s.granted[lparID] = privileges
}

// Remove drops all privilege state for a destroyed partition.
func (s *SecurityManager) Remove(lparID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.granted, lparID)
}

// CheckPrivileges reports whether the partition holds every bit of the
// requested mask. Administrative partitions hold everything.
func (s *SecurityManager) CheckPrivileges(lparID uint32, privileges uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.granted[lparID]
	if !ok {
		return false
	}
	if held&PrivAdmin != 0 {
		return true
	}
	return held&privileges == privileges
}

// GrantPrivileges adds bits to the partition's mask.
func (s *SecurityManager) GrantPrivileges(lparID uint32, privileges uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.granted[lparID]
	if !ok {
		return fmt.Errorf("LPAR %d not registered", lparID)
	}
	s.granted[lparID] = held | privileges
	s.log.Info("Granted privileges", "lpar", lparID, "priv", fmt.Sprintf("%#x", privileges))
	return nil
}

// RevokePrivileges clears bits from the partition's mask.
func (s *SecurityManager) RevokePrivileges(lparID uint32, privileges uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.granted[lparID]
	if !ok {
		return fmt.Errorf("LPAR %d not registered", lparID)
	}
	s.granted[lparID] = held &^ privileges
	s.log.Info("Revoked privileges", "lpar", lparID, "priv", fmt.Sprintf("%#x", privileges))
	return nil
}

// Privileges returns the partition's current mask.
func (s *SecurityManager) Privileges(lparID uint32) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.granted[lparID]
	return held, ok
}

// ValidateMemoryAccess checks that the partition may establish a mapping
// with the given flags. Read/write mappings need the basic privilege;
// executable mappings additionally need the memory privilege.
func (s *SecurityManager) ValidateMemoryAccess(lparID uint32, flags uint32) bool {
	var need uint64 = PrivBasic
	if flags&MemExecute != 0 {
		need |= PrivMemory
	}
	return s.CheckPrivileges(lparID, need)
}

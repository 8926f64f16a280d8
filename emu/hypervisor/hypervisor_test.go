/* Hypervisor tests.

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
	"testing"
)

func testHV(t *testing.T) *Hypervisor {
	t.Helper()
	hv := New()
	if err := hv.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(hv.Shutdown)
	return hv
}

// Initialization creates the default partition under identity 1.
func TestInitializeCreatesDefaultLPAR(t *testing.T) {
	hv := testHV(t)
	if !hv.Initialized() {
		t.Fatalf("Hypervisor not initialized")
	}
	lpar, ok := hv.LPAR(1)
	if !ok {
		t.Fatalf("Default LPAR missing")
	}
	if lpar.Size != defaultLPARSize {
		t.Errorf("Default LPAR size not correct got: %#x expected: %#x", lpar.Size, defaultLPARSize)
	}
	if lpar.Privileges != PrivBasic {
		t.Errorf("Default LPAR privileges not correct got: %#x expected: %#x", lpar.Privileges, PrivBasic)
	}
	if lpar.BaseAddr != BaseAddr {
		t.Errorf("Default LPAR base not correct got: %#x expected: %#x", lpar.BaseAddr, uint64(BaseAddr))
	}
}

func TestGetVersion(t *testing.T) {
	hv := testHV(t)
	var result uint64
	if err := hv.HandleHVCall(HVGetVersion, nil, &result); err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if result != Version {
		t.Errorf("Version not correct got: %#x expected: %#x", result, uint64(Version))
	}
}

func TestCreateDestroyLPAR(t *testing.T) {
	hv := testHV(t)
	id := hv.CreateLPAR(0x10000, PrivBasic|PrivMemory)
	if id == 0 {
		t.Fatalf("CreateLPAR failed")
	}
	if id == 1 {
		t.Errorf("Created LPAR reused the default identity")
	}
	lpar, ok := hv.LPAR(id)
	if !ok {
		t.Fatalf("Created LPAR not found")
	}
	if lpar.Size != 0x10000 {
		t.Errorf("LPAR size not correct got: %#x expected: %#x", lpar.Size, 0x10000)
	}

	if err := hv.DestroyLPAR(id); err != nil {
		t.Fatalf("DestroyLPAR failed: %v", err)
	}
	// Destroy succeeds exactly once.
	if err := hv.DestroyLPAR(id); err == nil {
		t.Errorf("Second destroy did not fail")
	}
	if _, ok := hv.LPAR(id); ok {
		t.Errorf("Destroyed LPAR still resolvable")
	}
}

// A request larger than the pool returns the zero sentinel and leaves the
// allocator untouched.
func TestCreateLPARInsufficientMemory(t *testing.T) {
	hv := testHV(t)
	free := hv.FreeMemory()
	if id := hv.CreateLPAR(PoolSize*2, PrivBasic); id != 0 {
		t.Errorf("Oversized LPAR created got id: %d", id)
	}
	if r := hv.FreeMemory(); r != free {
		t.Errorf("Failed create changed free pool got: %#x expected: %#x", r, free)
	}
}

// Destroying a partition returns its memory; coalescing makes the whole
// span reusable.
func TestLPARMemoryReclaimed(t *testing.T) {
	hv := testHV(t)
	before := hv.FreeMemory()
	var ids []uint32
	for i := 0; i < 4; i++ {
		id := hv.CreateLPAR(0x100000, PrivBasic)
		if id == 0 {
			t.Fatalf("CreateLPAR %d failed", i)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := hv.DestroyLPAR(id); err != nil {
			t.Fatalf("DestroyLPAR failed: %v", err)
		}
	}
	if r := hv.FreeMemory(); r != before {
		t.Errorf("Pool not reclaimed got: %#x expected: %#x", r, before)
	}
	// The coalesced pool can satisfy one large request again.
	if id := hv.CreateLPAR(before, PrivBasic); id == 0 {
		t.Errorf("Coalesced pool could not satisfy a full size request")
	}
}

// Identities keep increasing even across destroys.
func TestLPARIDNotReused(t *testing.T) {
	hv := testHV(t)
	first := hv.CreateLPAR(0x1000, PrivBasic)
	if err := hv.DestroyLPAR(first); err != nil {
		t.Fatalf("DestroyLPAR failed: %v", err)
	}
	second := hv.CreateLPAR(0x1000, PrivBasic)
	if second == first {
		t.Errorf("LPAR id reused got: %d", second)
	}
}

// Every failing call writes the error sentinel into the result slot.
func TestUnknownCallWritesSentinel(t *testing.T) {
	hv := testHV(t)
	result := uint64(0x1234)
	if err := hv.HandleHVCall(0x9999, nil, &result); err == nil {
		t.Errorf("Unknown call did not fail")
	}
	if result != HVErr {
		t.Errorf("Result sentinel not written got: %#x expected: %#x", result, HVErr)
	}
}

func TestCallBeforeInitialize(t *testing.T) {
	hv := New()
	var result uint64
	if err := hv.HandleHVCall(HVGetVersion, nil, &result); err == nil {
		t.Errorf("Call on uninitialized hypervisor did not fail")
	}
	if result != HVErr {
		t.Errorf("Result sentinel not written got: %#x expected: %#x", result, HVErr)
	}
}

func TestSecurityCheckCall(t *testing.T) {
	hv := testHV(t)
	id := hv.CreateLPAR(0x1000, PrivBasic|PrivDebug)
	var result uint64

	if err := hv.HandleHVCall(HVSecurityCheck, []uint64{uint64(id), PrivDebug}, &result); err != nil {
		t.Fatalf("SecurityCheck failed: %v", err)
	}
	if result != 1 {
		t.Errorf("Held privilege not confirmed got: %d expected: %d", result, 1)
	}
	if err := hv.HandleHVCall(HVSecurityCheck, []uint64{uint64(id), PrivAdmin}, &result); err != nil {
		t.Fatalf("SecurityCheck failed: %v", err)
	}
	if result != 0 {
		t.Errorf("Unheld privilege confirmed got: %d expected: %d", result, 0)
	}
	// Unknown partitions fail rather than answer.
	if err := hv.HandleHVCall(HVSecurityCheck, []uint64{9999, PrivBasic}, &result); err == nil {
		t.Errorf("Security check on unknown LPAR did not fail")
	}
}

func TestGrantRevokePrivileges(t *testing.T) {
	hv := testHV(t)
	id := hv.CreateLPAR(0x1000, PrivBasic)
	var result uint64

	if err := hv.HandleHVCall(HVGrantPrivileges, []uint64{uint64(id), PrivIO}, &result); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if err := hv.HandleHVCall(HVSecurityCheck, []uint64{uint64(id), PrivIO}, &result); err != nil {
		t.Fatalf("SecurityCheck failed: %v", err)
	}
	if result != 1 {
		t.Errorf("Granted privilege not held")
	}
	lpar, _ := hv.LPAR(id)
	if lpar.Privileges&PrivIO == 0 {
		t.Errorf("Grant not reflected on the partition record got: %#x", lpar.Privileges)
	}

	if err := hv.HandleHVCall(HVRevokePrivileges, []uint64{uint64(id), PrivIO}, &result); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := hv.HandleHVCall(HVSecurityCheck, []uint64{uint64(id), PrivIO}, &result); err != nil {
		t.Fatalf("SecurityCheck failed: %v", err)
	}
	if result != 0 {
		t.Errorf("Revoked privilege still held")
	}
}

// Admin partitions pass every privilege check.
func TestAdminHoldsEverything(t *testing.T) {
	hv := testHV(t)
	id := hv.CreateLPAR(0x1000, PrivAdmin)
	var result uint64
	for _, priv := range []uint64{PrivBasic, PrivMemory, PrivIO, PrivInterrupt, PrivSyscall, PrivDebug} {
		if err := hv.HandleHVCall(HVSecurityCheck, []uint64{uint64(id), priv}, &result); err != nil {
			t.Fatalf("SecurityCheck failed: %v", err)
		}
		if result != 1 {
			t.Errorf("Admin missing privilege %#x", priv)
		}
	}
}

func TestMemoryMapUnmap(t *testing.T) {
	hv := testHV(t)
	id := hv.CreateLPAR(0x1000, PrivBasic)
	var result uint64

	args := []uint64{uint64(id), 0x10000, 0x20000, 0x1000, MemRead | MemWrite}
	if err := hv.HandleHVCall(HVMemoryMap, args, &result); err != nil {
		t.Fatalf("MemoryMap failed: %v", err)
	}
	if result != 0 {
		t.Errorf("Map result not correct got: %#x expected: %#x", result, 0)
	}

	// Overlapping map for the same partition is rejected.
	args = []uint64{uint64(id), 0x10800, 0x30000, 0x1000, MemRead}
	if err := hv.HandleHVCall(HVMemoryMap, args, &result); err == nil {
		t.Errorf("Overlapping map accepted")
	}
	if result != HVErr {
		t.Errorf("Failed map result not sentinel got: %#x", result)
	}

	if err := hv.HandleHVCall(HVMemoryProtect, []uint64{uint64(id), 0x10000, 0x1000, MemRead}, &result); err != nil {
		t.Fatalf("MemoryProtect failed: %v", err)
	}

	if err := hv.HandleHVCall(HVMemoryUnmap, []uint64{uint64(id), 0x10000, 0x1000}, &result); err != nil {
		t.Fatalf("MemoryUnmap failed: %v", err)
	}
	// The range is gone.
	if err := hv.HandleHVCall(HVMemoryUnmap, []uint64{uint64(id), 0x10000, 0x1000}, &result); err == nil {
		t.Errorf("Second unmap did not fail")
	}
}

// An unknown partition fails the call before the mapping tables are
// touched.
func TestMemoryMapUnknownLPAR(t *testing.T) {
	hv := testHV(t)
	var result uint64
	args := []uint64{777, 0x10000, 0x20000, 0x1000, MemRead}
	if err := hv.HandleHVCall(HVMemoryMap, args, &result); err == nil {
		t.Errorf("Map for unknown LPAR accepted")
	}
	if result != HVErr {
		t.Errorf("Result sentinel not written got: %#x", result)
	}
}

// Executable mappings need the memory privilege; granting it unlocks the
// map.
func TestMemoryMapPrivilegeFlow(t *testing.T) {
	hv := testHV(t)
	id := hv.CreateLPAR(0x1000, PrivBasic)
	var result uint64

	args := []uint64{uint64(id), 0x40000, 0x50000, 0x1000, MemRead | MemExecute}
	if err := hv.HandleHVCall(HVMemoryMap, args, &result); err == nil {
		t.Errorf("Executable map without memory privilege accepted")
	}

	if err := hv.HandleHVCall(HVGrantPrivileges, []uint64{uint64(id), PrivMemory}, &result); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if err := hv.HandleHVCall(HVMemoryMap, args, &result); err != nil {
		t.Fatalf("Executable map after grant failed: %v", err)
	}
	if result != 0 {
		t.Errorf("Map result not correct got: %#x expected: %#x", result, 0)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	hv := New()
	if err := hv.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	hv.Shutdown()
	hv.Shutdown()
	if hv.Initialized() {
		t.Errorf("Shutdown hypervisor reports initialized")
	}
	if len(hv.LPARs()) != 0 {
		t.Errorf("Partitions survive shutdown")
	}
}

// Whole flow as guest software would drive it: version, create, map,
// unmap, destroy.
func TestHVCallEndToEnd(t *testing.T) {
	hv := testHV(t)
	var result uint64

	if err := hv.HandleHVCall(HVGetVersion, nil, &result); err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if result != Version {
		t.Fatalf("Version not correct got: %#x expected: %#x", result, uint64(Version))
	}

	if err := hv.HandleHVCall(HVCreateLPAR, []uint64{0x1000, PrivBasic}, &result); err != nil {
		t.Fatalf("CreateLPAR failed: %v", err)
	}
	id := result
	if id != 2 {
		t.Errorf("Created LPAR id not correct got: %d expected: %d", id, 2)
	}

	if err := hv.HandleHVCall(HVMemoryMap,
		[]uint64{id, 0x10000, 0x20000, 0x1000, MemRead | MemWrite}, &result); err != nil {
		t.Fatalf("MemoryMap failed: %v", err)
	}
	if result != 0 {
		t.Errorf("Map result not correct got: %#x expected: %#x", result, 0)
	}

	if err := hv.HandleHVCall(HVMemoryUnmap, []uint64{id, 0x10000, 0x1000}, &result); err != nil {
		t.Fatalf("MemoryUnmap failed: %v", err)
	}

	if err := hv.HandleHVCall(HVDestroyLPAR, []uint64{id}, &result); err != nil {
		t.Fatalf("DestroyLPAR failed: %v", err)
	}
	if result != 0 {
		t.Errorf("Destroy result not correct got: %#x expected: %#x", result, 0)
	}
}

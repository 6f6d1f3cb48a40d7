package pcap

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"
)

// portFilter compiles a classic BPF program that drops Ethernet/IPv4 frames
// unless they carry TCP with port as source or destination. Frames that are
// not plain IPv4 (VLAN, IPv6, fragments) are accepted and left to the layer
// decoder.
func portFilter(link layers.LinkType, port int) (*bpf.VM, error) {
	if port == 0 || link != layers.LinkTypeEthernet {
		return nil, nil
	}

	const (
		accept = 0xFFFF
		drop   = 0
	)
	p := uint32(port)
	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},                          // 0: ethertype
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: 9},  // 1: not IPv4 -> accept
		bpf.LoadAbsolute{Off: 23, Size: 1},                          // 2: ip protocol
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipFalse: 8},       // 3: not TCP -> drop
		bpf.LoadAbsolute{Off: 20, Size: 2},                          // 4: flags + fragment offset
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 5}, // 5: fragment -> accept
		bpf.LoadMemShift{Off: 14},                                   // 6: x = ip header length
		bpf.LoadIndirect{Off: 14, Size: 2},                          // 7: tcp src port
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: p, SkipTrue: 2},        // 8
		bpf.LoadIndirect{Off: 16, Size: 2},                          // 9: tcp dst port
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: p, SkipFalse: 1},       // 10
		bpf.RetConstant{Val: accept},                                // 11
		bpf.RetConstant{Val: drop},                                  // 12
	}

	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to compile BPF filter: %w", err)
	}
	return vm, nil
}

// match reports whether data passes vm. A nil vm matches everything.
func match(vm *bpf.VM, data []byte) bool {
	if vm == nil {
		return true
	}
	n, err := vm.Run(data)
	return err == nil && n > 0
}

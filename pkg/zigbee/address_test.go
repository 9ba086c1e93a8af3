package zigbee

import "testing"

func TestAddressDeviceVariant(t *testing.T) {
	a := NewDeviceAddress(0x1234, 1)
	if a.IsGroup() {
		t.Fatal("expected a device address to report IsGroup false")
	}
	dev, ok := a.Device()
	if !ok || dev.NetworkAddress != 0x1234 || dev.Endpoint != 1 {
		t.Fatalf("expected device (0x1234, 1), got %+v, %v", dev, ok)
	}
	if _, ok := a.Group(); ok {
		t.Fatal("expected Group to report false for a device address")
	}
}

func TestAddressGroupVariant(t *testing.T) {
	a := NewGroupAddress(0x0042)
	if !a.IsGroup() {
		t.Fatal("expected a group address to report IsGroup true")
	}
	group, ok := a.Group()
	if !ok || group.ID != 0x0042 {
		t.Fatalf("expected group 0x0042, got %+v, %v", group, ok)
	}
	if _, ok := a.Device(); ok {
		t.Fatal("expected Device to report false for a group address")
	}
}

func TestIEEEAddressStringFormat(t *testing.T) {
	a := IEEEAddress(0x00158D0001234567)
	if got, want := a.String(), "00:15:8d:00:01:23:45:67"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDeviceAddressString(t *testing.T) {
	a := DeviceAddress{NetworkAddress: 0x1234, Endpoint: 2}
	if got, want := a.String(), "0x1234/2"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

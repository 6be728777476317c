package steps

import (
	"lumen-gatherer/internal/products"
	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/transport/fake"
)

func (fc *FeatureContext) aBulbLabelled(serial, label string) error {
	fc.fleet.Add(fake.Bulb(fc.serial(serial), label))
	return nil
}

func (fc *FeatureContext) aStripLabelledWithZones(serial, label string, zones int) error {
	fc.fleet.Add(fake.Strip(fc.serial(serial), label, zones, products.FirmwareVersion{Major: 2, Minor: 80}))
	return nil
}

func (fc *FeatureContext) aTileChainLabelledWithTiles(serial, label string, tiles int) error {
	fc.fleet.Add(fake.TileChain(fc.serial(serial), label, tiles))
	return nil
}

func (fc *FeatureContext) deviceIgnores(serial, packetType string) error {
	t, err := protocol.ParsePacketType(packetType)
	if err != nil {
		return err
	}
	fc.fleet.Ignore(fc.serial(serial), t)
	return nil
}

func (fc *FeatureContext) deviceIsOffline(serial string) error {
	fc.fleet.SetOffline(fc.serial(serial), true)
	return nil
}

func (fc *FeatureContext) deviceIsRelabelled(serial, label string) error {
	fc.fleet.Update(fc.serial(serial), func(d *fake.Device) { d.Label = label })
	return nil
}

func (fc *FeatureContext) theCacheIsCleared() error {
	fc.gatherer.ClearCache()
	return nil
}

func (fc *FeatureContext) shouldHaveBeenSentTimes(packetType, serial string, times int) error {
	t, err := protocol.ParsePacketType(packetType)
	if err != nil {
		return err
	}

	count := 0
	for _, sent := range fc.fleet.SentTypes(fc.serial(serial)) {
		if sent == t {
			count++
		}
	}
	fc.require.Equal(times, count, "%s sent to %s", packetType, serial)
	return nil
}

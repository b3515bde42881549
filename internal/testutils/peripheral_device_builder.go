package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	blelib "github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"

	"github.com/srg/blimd/internal/device"
	"github.com/srg/blimd/internal/testutils/mocks"
)

// Peripheral is a built go-ble device together with the client its Dial
// returns and the profile that client discovers.
type Peripheral struct {
	Device  *mocks.MockDevice
	Client  *mocks.MockClient
	Profile *blelib.Profile
}

// Characteristic finds a profile characteristic by service and
// characteristic UUID in any notation.
func (p *Peripheral) Characteristic(serviceUUID, charUUID string) *blelib.Characteristic {
	for _, svc := range p.Profile.Services {
		if !device.SameUUID(svc.UUID.String(), serviceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if device.SameUUID(c.UUID.String(), charUUID) {
				return c
			}
		}
	}
	panic(fmt.Sprintf("characteristic %s/%s not in profile", serviceUUID, charUUID))
}

// PeripheralDeviceBuilder builds a mocked go-ble device: Scan replays the
// configured advertisements and blocks until cancelled, Dial hands out a
// client whose profile, reads, writes and subscriptions follow the config.
type PeripheralDeviceBuilder struct {
	profile            DeviceProfileConfig
	scanAdvertisements []blelib.Advertisement
	dialErr            error
	discoverErr        error
}

func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{}
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	cc := CharacteristicConfig{UUID: uuid, Properties: properties}
	if value != nil {
		cc.Value = make([]int, len(value))
		for i, v := range value {
			cc.Value[i] = int(v)
		}
	}
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, cc)
	return b
}

// FromJSON replaces the device profile. Panics on invalid JSON.
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

func (b *PeripheralDeviceBuilder) WithDialError(err error) *PeripheralDeviceBuilder {
	b.dialErr = err
	return b
}

func (b *PeripheralDeviceBuilder) WithDiscoverError(err error) *PeripheralDeviceBuilder {
	b.discoverErr = err
	return b
}

// WithScanAdvertisements returns an array builder that comes back to this
// builder on Build().
func (b *PeripheralDeviceBuilder) WithScanAdvertisements() *AdvertisementArrayBuilder[*PeripheralDeviceBuilder] {
	arrayBuilder := NewAdvertisementArrayBuilder[*PeripheralDeviceBuilder]()
	arrayBuilder.parent = b
	arrayBuilder.buildFunc = func(parent *PeripheralDeviceBuilder, ads []blelib.Advertisement) *PeripheralDeviceBuilder {
		parent.scanAdvertisements = append(parent.scanAdvertisements, ads...)
		return parent
	}
	return arrayBuilder
}

// parseCharacteristicProperties maps BlueZ flag names to go-ble property
// bits. Empty means read,write,notify.
func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}
	caps, unknown := device.ParseCapabilities(strings.Split(props, ","))
	if len(unknown) > 0 {
		panic(fmt.Sprintf("unknown characteristic properties %v", unknown))
	}
	return blelib.Property(caps)
}

func (b *PeripheralDeviceBuilder) Build() *Peripheral {
	mockDevice := &mocks.MockDevice{}
	mockClient := mocks.NewMockClient()

	profile := &blelib.Profile{}
	for _, svcConfig := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &blelib.Characteristic{
				UUID:     blelib.MustParse(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    charConfig.Bytes(),
			})
		}
		profile.Services = append(profile.Services, svc)
	}

	if b.dialErr != nil {
		mockDevice.On("Dial", mock.Anything, mock.Anything).Return(nil, b.dialErr)
	} else {
		mockDevice.On("Dial", mock.Anything, mock.Anything).Return(mockClient, nil)
	}
	mockDevice.On("Stop").Return(nil).Maybe()

	if b.discoverErr != nil {
		mockClient.On("DiscoverProfile", true).Return(nil, b.discoverErr)
	} else {
		mockClient.On("DiscoverProfile", true).Return(profile, nil)
	}
	mockClient.On("CancelConnection").Return(nil).Maybe()

	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			mockClient.On("Subscribe", char, mock.Anything, mock.Anything).Return(nil).Maybe()
			mockClient.On("WriteCharacteristic", char, mock.Anything, mock.Anything).Return(nil).Maybe()
			if char.Property&blelib.CharRead != 0 {
				mockClient.On("ReadCharacteristic", char).Return(char.Value, nil).Maybe()
			} else {
				mockClient.On("ReadCharacteristic", char).Return(nil, fmt.Errorf("characteristic does not support read")).Maybe()
			}
		}
	}

	ads := b.scanAdvertisements
	mockDevice.On("Scan", mock.Anything, true, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		handler := args.Get(2).(blelib.AdvHandler)
		for _, adv := range ads {
			handler(adv)
		}
		<-ctx.Done()
	}).Return(context.Canceled).Maybe()

	return &Peripheral{Device: mockDevice, Client: mockClient, Profile: profile}
}

// GetServices returns the configured services.
func (b *PeripheralDeviceBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}

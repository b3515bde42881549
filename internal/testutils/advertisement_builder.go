package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/go-ble/ble"

	"github.com/srg/blimd/internal/testutils/mocks"
)

// AdvertisementBuilder builds mocked go-ble advertisements.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	connectable bool
}

// NewAdvertisementBuilder starts from a connectable advertisement at -50 dBm.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{rssi: -50, connectable: true}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds advertised service UUIDs, short ("180F") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// FromJSON overrides the fields present in the JSON document. Panics on
// invalid JSON.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Name        *string  `json:"name"`
		Address     *string  `json:"address"`
		RSSI        *int     `json:"rssi"`
		Services    []string `json:"services"`
		Connectable *bool    `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("AdvertisementBuilder.FromJSON: %v", err))
	}
	if data.Name != nil {
		b.name = *data.Name
	}
	if data.Address != nil {
		b.address = *data.Address
	}
	if data.RSSI != nil {
		b.rssi = *data.RSSI
	}
	if data.Services != nil {
		b.services = data.Services
	}
	if data.Connectable != nil {
		b.connectable = *data.Connectable
	}
	return b
}

// Build returns a MockAdvertisement answering every accessor the adapter
// uses. Expectations are optional so tests only assert what they care about.
func (b *AdvertisementBuilder) Build() *mocks.MockAdvertisement {
	uuids := make([]ble.UUID, 0, len(b.services))
	for _, s := range b.services {
		uuids = append(uuids, ble.MustParse(s))
	}

	adv := &mocks.MockAdvertisement{}
	adv.On("Addr").Return(ble.NewAddr(b.address)).Maybe()
	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("Services").Return(uuids).Maybe()
	adv.On("Connectable").Return(b.connectable).Maybe()
	return adv
}

// AdvertisementArrayBuilder collects advertisements and hands them to its
// parent builder on Build.
type AdvertisementArrayBuilder[T any] struct {
	advertisements []ble.Advertisement
	parent         T
	buildFunc      func(T, []ble.Advertisement) T
}

func NewAdvertisementArrayBuilder[T any]() *AdvertisementArrayBuilder[T] {
	return &AdvertisementArrayBuilder[T]{}
}

func (ab *AdvertisementArrayBuilder[T]) WithAdvertisements(ads ...ble.Advertisement) *AdvertisementArrayBuilder[T] {
	ab.advertisements = append(ab.advertisements, ads...)
	return ab
}

// WithNewAdvertisement returns a builder whose Build appends to this array.
func (ab *AdvertisementArrayBuilder[T]) WithNewAdvertisement() *AdvertisementArrayBuilderItem[T] {
	return &AdvertisementArrayBuilderItem[T]{AdvertisementBuilder: NewAdvertisementBuilder(), parent: ab}
}

// Build returns the parent when one is attached, otherwise the collected
// advertisements (T must then be []ble.Advertisement).
func (ab *AdvertisementArrayBuilder[T]) Build() T {
	if ab.buildFunc != nil {
		return ab.buildFunc(ab.parent, ab.advertisements)
	}
	var result interface{} = ab.advertisements
	return result.(T)
}

type AdvertisementArrayBuilderItem[T any] struct {
	*AdvertisementBuilder
	parent *AdvertisementArrayBuilder[T]
}

func (abi *AdvertisementArrayBuilderItem[T]) Build() *AdvertisementArrayBuilder[T] {
	abi.parent.advertisements = append(abi.parent.advertisements, abi.AdvertisementBuilder.Build())
	return abi.parent
}

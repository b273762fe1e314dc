// Package brokers constructs broker adapters from validated credentials.
package brokers

import (
	"fmt"

	"chartvision/pkg/brokers/common"
	"chartvision/pkg/brokers/dhan"
	"chartvision/pkg/brokers/fyers"
	"chartvision/pkg/brokers/iifl"
	"chartvision/pkg/brokers/upstox"
	"chartvision/pkg/brokers/zerodha"
)

// New builds the adapter for the requested broker. Unknown brokers are
// rejected rather than defaulted so a typo never routes orders to the
// wrong venue.
func New(creds common.Credentials) (common.Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	switch creds.Broker {
	case common.BrokerZerodha:
		return zerodha.New(zerodha.Config{Credentials: creds}), nil
	case common.BrokerUpstox:
		return upstox.New(upstox.Config{Credentials: creds}), nil
	case common.BrokerFyers:
		return fyers.New(fyers.Config{Credentials: creds}), nil
	case common.BrokerDhan:
		return dhan.New(dhan.Config{Credentials: creds}), nil
	case common.BrokerIIFLBlaze:
		return iifl.New(iifl.Config{Credentials: creds}), nil
	default:
		return nil, fmt.Errorf("unsupported broker: %s", creds.Broker)
	}
}

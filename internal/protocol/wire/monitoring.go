package wire

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Monitoring is the ground-station state attached to lifecycle events. It is
// CBOR encoded so receivers can ignore keys they do not know.
type Monitoring struct {
	GroundStationID string            `cbor:"1,keyasint,omitempty"`
	AzimuthDeg      float64           `cbor:"2,keyasint,omitempty"`
	ElevationDeg    float64           `cbor:"3,keyasint,omitempty"`
	SignalDBm       float64           `cbor:"4,keyasint,omitempty"`
	Locked          bool              `cbor:"5,keyasint,omitempty"`
	Detail          map[string]string `cbor:"6,keyasint,omitempty"`
}

var (
	monitoringEnc cbor.EncMode
	monitoringDec cbor.DecMode
)

func init() {
	var err error
	monitoringEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	monitoringDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeMonitoring deterministically encodes m; equal values give equal bytes.
func EncodeMonitoring(m Monitoring) ([]byte, error) {
	return monitoringEnc.Marshal(m)
}

func DecodeMonitoring(b []byte) (Monitoring, error) {
	var m Monitoring
	if len(b) == 0 {
		return m, nil
	}
	if err := monitoringDec.Unmarshal(b, &m); err != nil {
		return Monitoring{}, err
	}
	return m, nil
}

// blocks.go - ggml Q4_0 und Q8_0 Bloecke
// Q4_0: f16 Skala + 16 Bytes mit je zwei 4-Bit Werten (18 Bytes / 32 Werte)
// Q8_0: f16 Skala + 32 int8 Werte (34 Bytes / 32 Werte)

package quantize

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"
)

const (
	blockSize = 32
	q4_0Size  = 2 + blockSize/2
	q8_0Size  = 2 + blockSize
)

// Q4_0 quantisiert data (Laenge vielfaches von 32) in Q4_0 Bloecke.
// Der Wert mit dem groessten Betrag wird auf -8 abgebildet.
func Q4_0(data []float32) []byte {
	out := make([]byte, len(data)/blockSize*q4_0Size)
	for i := 0; i < len(data)/blockSize; i++ {
		x := data[i*blockSize : (i+1)*blockSize]
		y := out[i*q4_0Size : (i+1)*q4_0Size]

		var amax, vmax float32
		for _, v := range x {
			if a := float32(math.Abs(float64(v))); a > amax {
				amax, vmax = a, v
			}
		}

		d := vmax / -8
		var id float32
		if d != 0 {
			id = 1 / d
		}

		binary.LittleEndian.PutUint16(y, float16.Fromfloat32(d).Bits())
		for j := range blockSize / 2 {
			lo := min(15, int(x[j]*id+8.5))
			hi := min(15, int(x[j+blockSize/2]*id+8.5))
			y[2+j] = uint8(lo) | uint8(hi)<<4
		}
	}
	return out
}

// DequantizeQ4_0 wandelt Q4_0 Bloecke zurueck in float32
func DequantizeQ4_0(b []byte) []float32 {
	out := make([]float32, len(b)/q4_0Size*blockSize)
	for i := 0; i < len(b)/q4_0Size; i++ {
		y := b[i*q4_0Size : (i+1)*q4_0Size]
		x := out[i*blockSize : (i+1)*blockSize]

		d := float16.Frombits(binary.LittleEndian.Uint16(y)).Float32()
		for j := range blockSize / 2 {
			x[j] = float32(int(y[2+j]&0x0f)-8) * d
			x[j+blockSize/2] = float32(int(y[2+j]>>4)-8) * d
		}
	}
	return out
}

// Q8_0 quantisiert data (Laenge vielfaches von 32) in Q8_0 Bloecke
func Q8_0(data []float32) []byte {
	out := make([]byte, len(data)/blockSize*q8_0Size)
	for i := 0; i < len(data)/blockSize; i++ {
		x := data[i*blockSize : (i+1)*blockSize]
		y := out[i*q8_0Size : (i+1)*q8_0Size]

		var amax float32
		for _, v := range x {
			amax = max(amax, float32(math.Abs(float64(v))))
		}

		d := amax / 127
		var id float32
		if d != 0 {
			id = 1 / d
		}

		binary.LittleEndian.PutUint16(y, float16.Fromfloat32(d).Bits())
		for j, v := range x {
			y[2+j] = uint8(int8(math.Round(float64(v * id))))
		}
	}
	return out
}

// DequantizeQ8_0 wandelt Q8_0 Bloecke zurueck in float32
func DequantizeQ8_0(b []byte) []float32 {
	out := make([]float32, len(b)/q8_0Size*blockSize)
	for i := 0; i < len(b)/q8_0Size; i++ {
		y := b[i*q8_0Size : (i+1)*q8_0Size]
		d := float16.Frombits(binary.LittleEndian.Uint16(y)).Float32()
		for j := range blockSize {
			out[i*blockSize+j] = float32(int8(y[2+j])) * d
		}
	}
	return out
}

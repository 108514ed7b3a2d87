package at86rf212

import (
	"strconv"
	"time"
)

// SPI command bytes.
const (
	cmdRegWrite   = 0xc0
	cmdRegRead    = 0x80
	cmdFrameWrite = 0x60
	cmdFrameRead  = 0x20
	cmdSRAMWrite  = 0x40
	cmdSRAMRead   = 0x00
	regAddrMask   = 0x3f
)

// Register addresses.
const (
	RegTRXStatus  = 0x01
	RegTRXState   = 0x02
	RegTRXCtrl0   = 0x03
	RegTRXCtrl1   = 0x04
	RegPHYTxPwr   = 0x05
	RegPHYRSSI    = 0x06
	RegPHYEDLevel = 0x07
	RegPHYCCCCA   = 0x08
	RegCCAThres   = 0x09
	RegRxCtrl     = 0x0a
	RegSFDValue   = 0x0b
	RegTRXCtrl2   = 0x0c
	RegAntDiv     = 0x0d
	RegIRQMask    = 0x0e
	RegIRQStatus  = 0x0f
	RegVRegCtrl   = 0x10
	RegBatMon     = 0x11
	RegXOSCCtrl   = 0x12
	RegCCCtrl0    = 0x13
	RegCCCtrl1    = 0x14
	RegRxSyn      = 0x15
	RegRFCtrl0    = 0x16
	RegXAHCtrl1   = 0x17
	RegFTNCtrl    = 0x18
	RegRFCtrl1    = 0x19
	RegPLLCF      = 0x1a
	RegPLLDCU     = 0x1b
	RegPartNum    = 0x1c
	RegVersionNum = 0x1d
	RegManID0     = 0x1e
	RegManID1     = 0x1f
	RegShortAddr0 = 0x20
	RegShortAddr1 = 0x21
	RegPANID0     = 0x22
	RegPANID1     = 0x23
	RegIEEEAddr0  = 0x24 // Through 0x2b, least significant byte first.
	RegXAHCtrl0   = 0x2c
	RegCSMASeed0  = 0x2d
	RegCSMASeed1  = 0x2e
	RegCSMABE     = 0x2f
)

var regNames = [...]string{
	RegTRXStatus: "TRX_STATUS", RegTRXState: "TRX_STATE", RegTRXCtrl0: "TRX_CTRL_0",
	RegTRXCtrl1: "TRX_CTRL_1", RegPHYTxPwr: "PHY_TX_PWR", RegPHYRSSI: "PHY_RSSI",
	RegPHYEDLevel: "PHY_ED_LEVEL", RegPHYCCCCA: "PHY_CC_CCA", RegCCAThres: "CCA_THRES",
	RegRxCtrl: "RX_CTRL", RegSFDValue: "SFD_VALUE", RegTRXCtrl2: "TRX_CTRL_2",
	RegAntDiv: "ANT_DIV", RegIRQMask: "IRQ_MASK", RegIRQStatus: "IRQ_STATUS",
	RegVRegCtrl: "VREG_CTRL", RegBatMon: "BATMON", RegXOSCCtrl: "XOSC_CTRL",
	RegCCCtrl0: "CC_CTRL_0", RegCCCtrl1: "CC_CTRL_1", RegRxSyn: "RX_SYN",
	RegRFCtrl0: "RF_CTRL_0", RegXAHCtrl1: "XAH_CTRL_1", RegFTNCtrl: "FTN_CTRL",
	RegRFCtrl1: "RF_CTRL_1", RegPLLCF: "PLL_CF", RegPLLDCU: "PLL_DCU",
	RegPartNum: "PART_NUM", RegVersionNum: "VERSION_NUM", RegManID0: "MAN_ID_0",
	RegManID1: "MAN_ID_1", RegShortAddr0: "SHORT_ADDR_0", RegShortAddr1: "SHORT_ADDR_1",
	RegPANID0: "PAN_ID_0", RegPANID1: "PAN_ID_1",
	RegIEEEAddr0: "IEEE_ADDR_0", RegIEEEAddr0 + 1: "IEEE_ADDR_1", RegIEEEAddr0 + 2: "IEEE_ADDR_2",
	RegIEEEAddr0 + 3: "IEEE_ADDR_3", RegIEEEAddr0 + 4: "IEEE_ADDR_4", RegIEEEAddr0 + 5: "IEEE_ADDR_5",
	RegIEEEAddr0 + 6: "IEEE_ADDR_6", RegIEEEAddr0 + 7: "IEEE_ADDR_7",
	RegXAHCtrl0: "XAH_CTRL_0", RegCSMASeed0: "CSMA_SEED_0", RegCSMASeed1: "CSMA_SEED_1",
	RegCSMABE: "CSMA_BE",
}

// RegisterName returns the datasheet name of the register at addr.
func RegisterName(addr uint8) string {
	if int(addr) < len(regNames) && regNames[addr] != "" {
		return regNames[addr]
	}
	return "REG_0x" + strconv.FormatUint(uint64(addr), 16)
}

// Device identity.
const (
	partNumber    = 0x07
	versionNumber = 0x01
)

// Register fields.
const (
	trxCmdMask      = 0x1f // TRX_STATE.TRX_CMD and TRX_STATUS.TRX_STATUS.
	tracPos         = 5    // TRX_STATE.TRAC_STATUS bits 7:5.
	rssiCRCValid    = 1 << 7
	autoCRCOn       = 1 << 5 // TRX_CTRL_1.TX_AUTO_CRC_ON
	paExtEn         = 1 << 7 // TRX_CTRL_1.PA_EXT_EN
	irqPolarityLow  = 1 << 0 // TRX_CTRL_1.IRQ_POLARITY
	ccaChannelMask  = 0x1f
	modeMask        = 0x3f // TRX_CTRL_2 BPSK_OQPSK, SUB_MODE, OQPSK_DATA_RATE and friends.
	paOffsetMask    = 0x03 // RF_CTRL_0.GC_TX_OFFS
	oqpskTxOffset   = 2
	bpskTxOffset    = 3
	fvnPos          = 6 // CSMA_SEED_1.AACK_FVN_MODE
	fvnMask         = 3 << fvnPos
	frameVersion    = 1 // Accept 802.15.4 frame versions 0 and 1.
	frameRetriesPos = 4 // XAH_CTRL_0.MAX_FRAME_RETRIES
	frameRetryMask  = 0xf << frameRetriesPos
	csmaRetriesPos  = 1 // XAH_CTRL_0.MAX_CSMA_RETRIES
	csmaRetryMask   = 0x7 << csmaRetriesPos
	ccBandMask      = 0x07 // CC_CTRL_1.CC_BAND
	ccBand769MHz    = 0x04
	ccChannelBase   = 11 // CC_CTRL_0 value of 780MHz channel 0.
)

// Transceiver timings from the datasheet.
const (
	timeRstPulseWidth   = 1 * time.Microsecond
	timePOnToCLKMAvail  = 380 * time.Microsecond
	timeSleepToTRXOff   = 240 * time.Microsecond
	timeTRXOffToSleep   = 35 * time.Microsecond
	timePLLOnToBusyTx   = 1 * time.Microsecond
	timePLLLockTime     = 110 * time.Microsecond
	timeBusyTxToPLLOn   = 32 * time.Microsecond
	timeAllStatesTRXOff = 1 * time.Microsecond
	timeResetTRXOff     = 26 * time.Microsecond
	timeTRXOffToPLLOn   = 110 * time.Microsecond
	timeRxOnToPLLOn     = 1 * time.Microsecond
)

package protocol

import "testing"

func TestDeliveryMode_Levels(t *testing.T) {
	tests := []struct {
		kind  Kind
		level RegistrationLevel
		want  Delivery
	}{
		{KindTick, RegisterNone, DeliveryNormal},
		{KindTick, RegisterResends, DeliveryNormal},
		{KindTick, RegisterAll, DeliveryRegistered},
		{KindResend, RegisterNone, DeliveryNormal},
		{KindResend, RegisterResends, DeliveryRegistered},
		{KindResendRequest, RegisterNone, DeliveryNormal},
		{KindResendRequest, RegisterResends, DeliveryRegistered},
		{KindResendRequest, RegisterAll, DeliveryRegistered},
		{KindStartGame, RegisterNone, DeliveryRegistered},
		{KindAdmiralNumber, RegisterNone, DeliveryRegistered},
		{KindInvite, RegisterNone, DeliveryRegistered},
		{KindAck, RegisterAll, DeliveryNormal},
	}

	for _, tt := range tests {
		if got := DeliveryMode(tt.kind, tt.level, false); got != tt.want {
			t.Errorf("DeliveryMode(%s, %d) = %s, want %s", tt.kind, tt.level, got, tt.want)
		}
	}
}

func TestDeliveryMode_LevelsAreSupersets(t *testing.T) {
	kinds := []Kind{KindTick, KindResend, KindResendRequest, KindStartGame, KindCancelGame,
		KindAdmiralNumber, KindTextStart, KindTextChar, KindTextEnd, KindInvite, KindReady}

	for _, bw := range []bool{false, true} {
		for _, k := range kinds {
			for l := RegisterNone; l < MaxRegistrationLevel; l++ {
				lo := DeliveryMode(k, l, bw)
				hi := DeliveryMode(k, l+1, bw)
				if lo == DeliveryRegistered && hi != DeliveryRegistered {
					t.Fatalf("%s downgraded from level %d to %d (bandwidth=%v)", k, l, l+1, bw)
				}
			}
		}
	}
}

func TestDeliveryMode_BandwidthOnlyTouchesText(t *testing.T) {
	if DeliveryMode(KindTextChar, RegisterNone, true) != DeliveryNormal {
		t.Fatal("text char should be best-effort under bandwidth reduction")
	}
	if DeliveryMode(KindTick, RegisterAll, true) != DeliveryRegistered {
		t.Fatal("bandwidth reduction must not downgrade level 2 ticks")
	}
}

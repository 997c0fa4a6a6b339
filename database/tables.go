package database

// HTTP/2 tables, keyed by the network stack that sends the preface.
var (
	chromiumDesktopAkamai = Table{
		{"106-114", "1:65536,2:0,3:1000,4:6291456,6:262144|15663105|0|m,a,s,p"},
		{"80-105", "1:65536,3:1000,4:6291456,6:262144|15663105|0|m,a,s,p"},
		{"73-79", "1:65536,3:1000,4:6291456|15663105|0|m,a,s,p"},
	}
	chromiumMobileAkamai = chromiumDesktopAkamai

	firefoxDesktopAkamai = Table{
		{"65-113", "1:65536,4:131072,5:16384|12517377|3:0:0:201,5:0:0:101,7:0:0:1,9:0:7:1,11:0:3:1,13:0:0:241|m,p,a,s"},
	}
	firefoxMobileAkamai = Table{
		{"65-113", "1:4096,4:32768,5:16384|12517377|3:0:0:201,5:0:0:101,7:0:0:1,9:0:7:1,11:0:3:1,13:0:0:241|m,p,a,s"},
	}

	safariDesktopAkamai = Table{
		{"14-16", "4:4194304,3:100|10485760|0|m,s,p,a"},
		{"13", "4:1048576,3:100|10485760|0|m,s,p,a"},
	}
	safariMobileAkamai = Table{
		{"14-16", "4:2097152,3:100|10485760|0|m,s,p,a"},
		{"13", "4:1048576,3:100|10485760|0|m,s,p,a"},
	}
)

// JA3 tables, keyed by browser engine.
var (
	chromiumJA3 = Table{
		{"111-114", "772,4865-4866-4867-49195-49199-49196-49200-52393-52392-49171-49172-156-157-47-53," +
			"51-35-13-16-5-11-17513-0-23-18-45-65281-27-43-10,29-23-24,0"},
		{"83-110", "772,4865-4866-4867-49195-49199-49196-49200-52393-52392-49171-49172-156-157-47-53," +
			"0-23-65281-10-11-35-16-5-13-18-51-45-43-27-17513,29-23-24,0"},
		{"73-82", "772,4865-4866-4867-49195-49199-49196-49200-52393-52392-49171-49172-156-157-47-53-10," +
			"0-23-65281-10-11-35-16-5-13-18-51-45-43-27,29-23-24,0"},
	}

	firefoxJA3 = Table{
		{"89-113", "772,4865-4867-4866-49195-49199-52393-52392-49196-49200-49162-49161-49171-49172-156-157-47-53," +
			"0-23-65281-10-11-35-16-5-34-51-43-13-45-28,29-23-24-25-256-257,0"},
		{"75-88", "772,4865-4867-4866-49195-49199-52393-52392-49196-49200-49162-49161-49171-49172-156-157-47-53-10," +
			"0-23-65281-10-11-35-16-5-51-43-13-45-28,29-23-24-25-256-257,0"},
		{"65-74", "772,4865-4867-4866-49195-49199-52393-52392-49196-49200-49162-49161-49171-49172-51-57-47-53-10," +
			"0-23-65281-10-11-35-16-5-51-43-13-45-28,29-23-24-25-256-257,0"},
	}

	safariJA3 = Table{
		{"15-16", "772,4865-4866-4867-49196-49195-52393-49200-49199-52392-49162-49161-49172-49171-157-156-53-47-49160" +
			"-49170-10,0-23-65281-10-11-16-5-13-18-51-45-43-27,29-23-24-25,0"},
		{"14", "772,4865-4866-4867-49196-49195-52393-49200-49199-52392-49188-49187-49162-49161-49192-49191-49172-49171" +
			"-157-156-61-60-53-47-49160-49170-10,0-23-65281-10-11-16-5-13-18-51-45-43,29-23-24-25,0"},
		{"13", "772,4865-4866-4867-49196-49195-49188-49187-49162-49161-52393-49200-49199-49192-49191-49172-49171-52392" +
			"-157-156-61-60-53-47-49160-49170-10,65281-0-23-13-5-18-16-11-51-45-43-10,29-23-24-25,0"},
	}
)

func chromium(name string) *Browser {
	return &Browser{
		Name:      name,
		Chromium:  true,
		Tolerance: 10,
		JA3:       chromiumJA3,
		HTTP2: map[Device]Table{
			Desktop: chromiumDesktopAkamai,
			Android: chromiumMobileAkamai,
			IOS:     safariMobileAkamai,
		},
		Headers: chromiumHeaders,
	}
}

var (
	chrome  = chromium("Chrome")
	edge    = chromium("Edge")
	opera   = chromium("Opera")
	firefox = &Browser{
		Name:      "Firefox",
		Tolerance: 10,
		JA3:       firefoxJA3,
		HTTP2: map[Device]Table{
			Desktop: firefoxDesktopAkamai,
			Android: firefoxMobileAkamai,
			IOS:     safariMobileAkamai,
		},
		Headers: firefoxHeaders,
	}
	safari = &Browser{
		Name:      "Safari",
		Tolerance: 1,
		JA3:       safariJA3,
		HTTP2: map[Device]Table{
			Desktop: safariDesktopAkamai,
			Android: safariMobileAkamai,
			IOS:     safariMobileAkamai,
		},
		Headers: safariHeaders,
	}
)
